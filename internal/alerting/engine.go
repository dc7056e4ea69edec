// Package alerting turns unhealthy probe results into alerts and manages the
// alert lifecycle.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/vigil/internal/audit"
	"github.com/good-yellow-bee/vigil/internal/health"
	"github.com/good-yellow-bee/vigil/internal/metrics"
	"github.com/good-yellow-bee/vigil/internal/models"
	"github.com/good-yellow-bee/vigil/internal/storage"
)

// SystemMonitorSource is the source of alerts raised from health checks.
const SystemMonitorSource = "SYSTEM_MONITOR"

// ManualSource is the default source of operator-created alerts.
const ManualSource = "MANUAL"

var (
	// ErrAlertNotFound is returned for unknown alert ids.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned when a lifecycle operation is not
	// allowed from the alert's current status.
	ErrInvalidTransition = errors.New("invalid alert transition")
	// ErrInvalidRequest is returned when input fails validation.
	ErrInvalidRequest = errors.New("invalid alert request")
)

// Store is the persistence the engine needs.
type Store interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	Update(ctx context.Context, alert *models.Alert) error
	FindActive(ctx context.Context, serviceName string, alertType models.AlertType) (*models.Alert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
	Recent(ctx context.Context, limit int) ([]*models.Alert, error)
	CountByStatus(ctx context.Context) (map[models.AlertStatus]int64, error)
}

// CreateHook is called for every alert the engine creates.
type CreateHook func(ctx context.Context, alert *models.Alert)

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	Evaluations      atomic.Int64
	AlertsCreated    atomic.Int64
	AlertsSuppressed atomic.Int64
	Transitions      atomic.Int64
}

// EngineOptions configures the alert engine.
type EngineOptions struct {
	// Cooldown suppresses a new health alert for the same service and type
	// until this long after the previous one was raised. Zero disables it.
	Cooldown time.Duration
	Audit    audit.Recorder
	Logger   *zap.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// Engine raises alerts from health results and applies lifecycle transitions.
type Engine struct {
	store    Store
	audit    audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
	cooldown *CooldownManager
	window   time.Duration

	// evalMu serializes the find-then-create step of Evaluate.
	evalMu sync.Mutex

	hooksMu sync.RWMutex
	hooks   []CreateHook

	stats *EngineStats
}

// NewEngine creates an alert engine.
func NewEngine(store Store, opts EngineOptions) *Engine {
	e := &Engine{
		store:    store,
		audit:    opts.Audit,
		logger:   opts.Logger,
		now:      opts.Now,
		cooldown: NewCooldownManager(),
		window:   opts.Cooldown,
		stats:    &EngineStats{},
	}
	if e.audit == nil {
		e.audit = audit.Discard
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("alerting")
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// OnCreate registers a hook called after each alert is persisted.
func (e *Engine) OnCreate(h CreateHook) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, h)
}

// Stats returns engine statistics.
func (e *Engine) Stats() *EngineStats {
	return e.stats
}

// Evaluate raises a SERVICE_DOWN alert for each unhealthy service in res,
// unless an OPEN or ACKNOWLEDGED alert already exists for that service or
// the service is within its cooldown. Alerts that were persisted are
// returned even when others failed; the error joins the failures.
func (e *Engine) Evaluate(ctx context.Context, res *health.Result) ([]*models.Alert, error) {
	if res == nil {
		return nil, nil
	}
	e.stats.Evaluations.Add(1)

	severity := models.SeverityHigh
	if res.OverallStatus == models.OverallCritical {
		severity = models.SeverityCritical
	}

	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	if e.window > 0 {
		e.cooldown.Prune(e.now())
	}

	var (
		created []*models.Alert
		errs    []error
	)
	for _, svc := range res.Unhealthy() {
		now := e.now()

		active, err := e.store.FindActive(ctx, svc.Name, models.AlertTypeServiceDown)
		if err != nil {
			errs = append(errs, fmt.Errorf("find active alert for %s: %w", svc.Name, err))
			e.logger.Error("alert lookup failed", zap.String("service", svc.Name), zap.Error(err))
			continue
		}
		if active != nil {
			e.suppress("duplicate", svc.Name, active.ID)
			continue
		}
		if e.cooldown.IsOnCooldown(svc.Name, models.AlertTypeServiceDown, now) {
			e.suppress("cooldown", svc.Name, "")
			continue
		}

		alert := &models.Alert{
			ID:          uuid.New().String(),
			Type:        models.AlertTypeServiceDown,
			Severity:    severity,
			ServiceName: svc.Name,
			Title:       "Service Health Alert",
			Message:     fmt.Sprintf("%s is %s: %s", svc.Name, svc.Status, svc.Message),
			Source:      SystemMonitorSource,
			Status:      models.AlertOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.store.Create(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("create alert for %s: %w", svc.Name, err))
			e.logger.Error("failed to persist alert", zap.String("service", svc.Name), zap.Error(err))
			continue
		}
		if e.window > 0 {
			e.cooldown.SetCooldown(svc.Name, models.AlertTypeServiceDown, e.window, now)
		}

		e.created(ctx, alert, "")
		created = append(created, alert)
	}

	return created, errors.Join(errs...)
}

// CreateRequest describes an operator-triggered alert.
type CreateRequest struct {
	Type        models.AlertType
	Severity    models.Severity
	ServiceName string
	Title       string
	Message     string
	Source      string
	CreatedBy   string
}

// Validate checks required fields.
func (r CreateRequest) Validate() error {
	var problems []string
	if !r.Type.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", r.Type))
	}
	if !r.Severity.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown severity %q", r.Severity))
	}
	if strings.TrimSpace(r.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		problems = append(problems, "message is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, ", "))
	}
	return nil
}

// CreateAlert creates an OPEN alert on behalf of an operator. Manual alerts
// are not deduplicated.
func (e *Engine) CreateAlert(ctx context.Context, req CreateRequest) (*models.Alert, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	source := req.Source
	if source == "" {
		source = ManualSource
	}

	now := e.now()
	alert := &models.Alert{
		ID:          uuid.New().String(),
		Type:        req.Type,
		Severity:    req.Severity,
		ServiceName: req.ServiceName,
		Title:       req.Title,
		Message:     req.Message,
		Source:      source,
		Status:      models.AlertOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	e.created(ctx, alert, req.CreatedBy)
	return alert, nil
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED.
func (e *Engine) Acknowledge(ctx context.Context, id, by string) (*models.Alert, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("%w: acknowledged_by is required", ErrInvalidRequest)
	}

	return e.transition(ctx, id, models.AlertAcknowledged, func(a *models.Alert, now time.Time) error {
		if a.Status != models.AlertOpen {
			return fmt.Errorf("%w: cannot acknowledge alert in status %s", ErrInvalidTransition, a.Status)
		}
		a.Status = models.AlertAcknowledged
		a.AcknowledgedBy = by
		a.AcknowledgedAt = &now
		return nil
	}, by)
}

// Resolve moves an OPEN or ACKNOWLEDGED alert to RESOLVED.
func (e *Engine) Resolve(ctx context.Context, id, by, notes string) (*models.Alert, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("%w: resolved_by is required", ErrInvalidRequest)
	}

	return e.transition(ctx, id, models.AlertResolved, func(a *models.Alert, now time.Time) error {
		if !a.Status.Active() {
			return fmt.Errorf("%w: cannot resolve alert in status %s", ErrInvalidTransition, a.Status)
		}
		a.Status = models.AlertResolved
		a.ResolvedBy = by
		a.ResolvedAt = &now
		a.ResolutionNotes = notes
		return nil
	}, by)
}

// transition loads the alert, applies fn to a copy and writes it back only if
// no other writer changed the alert in between.
func (e *Engine) transition(ctx context.Context, id string, to models.AlertStatus, fn func(*models.Alert, time.Time) error, actor string) (*models.Alert, error) {
	current, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load alert: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}

	now := e.now()
	next := current.Clone()
	if err := fn(next, now); err != nil {
		return nil, err
	}
	next.UpdatedAt = now

	if err := e.store.Update(ctx, next); err != nil {
		switch {
		case errors.Is(err, storage.ErrVersionConflict):
			return nil, fmt.Errorf("%w: alert %s was modified concurrently", ErrInvalidTransition, id)
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
		}
		return nil, fmt.Errorf("update alert: %w", err)
	}

	e.stats.Transitions.Add(1)
	metrics.AlertTransitionsTotal.WithLabelValues(string(to)).Inc()

	action := models.ActionAlertAcknowledged
	if to == models.AlertResolved {
		action = models.ActionAlertResolved
	}
	e.audit.Record(audit.Entry{
		ActorID:     actor,
		ActionType:  action,
		EntityType:  models.EntityAlert,
		EntityID:    next.ID,
		Description: fmt.Sprintf("alert %q %s", next.Title, strings.ToLower(string(to))),
		Severity:    next.Severity,
		Status:      models.AuditSuccess,
	})
	e.logger.Info("alert transitioned",
		zap.String("alert_id", next.ID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
		zap.String("by", actor))

	return next, nil
}

func (e *Engine) created(ctx context.Context, alert *models.Alert, actor string) {
	e.stats.AlertsCreated.Add(1)
	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity)).Inc()

	e.audit.Record(audit.Entry{
		ActorID:     actor,
		ActionType:  models.ActionAlertCreated,
		EntityType:  models.EntityAlert,
		EntityID:    alert.ID,
		Description: alert.Message,
		Severity:    alert.Severity,
		Status:      models.AuditSuccess,
	})
	e.logger.Warn("alert created",
		zap.String("alert_id", alert.ID),
		zap.String("service", alert.ServiceName),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)))

	e.hooksMu.RLock()
	hooks := e.hooks
	e.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, alert)
	}
}

func (e *Engine) suppress(reason, service, activeID string) {
	e.stats.AlertsSuppressed.Add(1)
	metrics.AlertsSuppressedTotal.WithLabelValues(reason).Inc()
	e.logger.Debug("alert suppressed",
		zap.String("reason", reason),
		zap.String("service", service),
		zap.String("active_alert_id", activeID))
}

// Get returns one alert.
func (e *Engine) Get(ctx context.Context, id string) (*models.Alert, error) {
	alert, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load alert: %w", err)
	}
	if alert == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return alert, nil
}

// List returns alerts matching filter, newest first.
func (e *Engine) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	return e.store.List(ctx, filter)
}

// Recent returns the newest n alerts.
func (e *Engine) Recent(ctx context.Context, n int) ([]*models.Alert, error) {
	return e.store.Recent(ctx, n)
}

// CountByStatus returns the number of alerts in each lifecycle state.
func (e *Engine) CountByStatus(ctx context.Context) (map[models.AlertStatus]int64, error) {
	return e.store.CountByStatus(ctx)
}
