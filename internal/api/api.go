// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/vigil/internal/alerting"
	"github.com/good-yellow-bee/vigil/internal/health"
	"github.com/good-yellow-bee/vigil/internal/models"
	"github.com/good-yellow-bee/vigil/internal/scheduler"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address      string
	QueryTimeout time.Duration // Timeout for storage-backed API calls
	// HealthMaxAge is how old a cached health result may be before
	// GET /api/v1/health probes again.
	HealthMaxAge   time.Duration
	RateLimitPerIP int // Mutating requests per minute per client
	Verbose        bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.HealthMaxAge == 0 {
		c.HealthMaxAge = 30 * time.Second
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 60
	}
}

// HealthService runs and caches health checks.
type HealthService interface {
	Refresh(ctx context.Context) *health.Result
	Current(ctx context.Context, maxAge time.Duration) *health.Result
}

// SnapshotReader queries stored health snapshots.
type SnapshotReader interface {
	List(ctx context.Context, filter models.SnapshotFilter) ([]*models.HealthSnapshot, error)
	Recent(ctx context.Context, limit int) ([]*models.HealthSnapshot, error)
}

// AlertService manages the alert lifecycle.
type AlertService interface {
	Get(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
	Recent(ctx context.Context, n int) ([]*models.Alert, error)
	CountByStatus(ctx context.Context) (map[models.AlertStatus]int64, error)
	CreateAlert(ctx context.Context, req alerting.CreateRequest) (*models.Alert, error)
	Acknowledge(ctx context.Context, id, by string) (*models.Alert, error)
	Resolve(ctx context.Context, id, by, notes string) (*models.Alert, error)
}

// NotificationService accepts and reports on queued notifications.
type NotificationService interface {
	Enqueue(ctx context.Context, item *models.QueueItem) error
	Get(ctx context.Context, id string) (*models.QueueItem, error)
	List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error)
	Status(ctx context.Context) (models.QueueCounts, error)
}

// JobLister reports scheduler state.
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// Deps are the services the API exposes. Jobs may be nil.
type Deps struct {
	Health        HealthService
	Snapshots     SnapshotReader
	Alerts        AlertService
	Notifications NotificationService
	Jobs          JobLister
}

func (d Deps) validate() error {
	switch {
	case d.Health == nil:
		return errors.New("health service is required")
	case d.Snapshots == nil:
		return errors.New("snapshot reader is required")
	case d.Alerts == nil:
		return errors.New("alert service is required")
	case d.Notifications == nil:
		return errors.New("notification service is required")
	}
	return nil
}

// Server is the HTTP API server.
type Server struct {
	config *Config
	deps   Deps
	logger *zap.Logger
	server *http.Server
}

// New creates a new API server.
func New(cfg *Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.SetDefaults()

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger.Named("api"),
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.QueryTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// queryContext bounds a storage-backed call.
func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.QueryTimeout)
}

// fail writes err as an API error. Storage failures are logged since the
// client only sees a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	JSONError(w, apiErr)
}
