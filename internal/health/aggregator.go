package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/good-yellow-bee/vigil/internal/metrics"
	"github.com/good-yellow-bee/vigil/internal/models"
)

// CriticalThreshold is the number of unhealthy probes at which the overall
// status becomes CRITICAL.
const CriticalThreshold = 3

// OverallFor maps an unhealthy probe count to an overall status.
func OverallFor(unhealthy int) models.OverallStatus {
	switch {
	case unhealthy >= CriticalThreshold:
		return models.OverallCritical
	case unhealthy > 0:
		return models.OverallDegraded
	default:
		return models.OverallHealthy
	}
}

// SnapshotWriter persists health snapshots.
type SnapshotWriter interface {
	Insert(ctx context.Context, snapshot *models.HealthSnapshot) error
}

// Result is the outcome of one aggregator run.
type Result struct {
	OverallStatus models.OverallStatus   `json:"overall_status"`
	Services      []models.ServiceHealth `json:"services"`
	HealthyCount  int                    `json:"healthy_count"`
	TotalCount    int                    `json:"total_count"`
	Timestamp     time.Time              `json:"timestamp"`

	// Snapshot is the record handed to the metric store.
	Snapshot *models.HealthSnapshot `json:"-"`
	// SnapshotErr is set when the snapshot could not be persisted.
	SnapshotErr error `json:"-"`
	// Interrupted is set when the caller's context ended mid-run. Such
	// results are not persisted, cached or evaluated for alerts.
	Interrupted bool `json:"-"`
}

// Unhealthy returns the services whose probe failed.
func (r *Result) Unhealthy() []models.ServiceHealth {
	var out []models.ServiceHealth
	for _, s := range r.Services {
		if !s.Healthy() {
			out = append(out, s)
		}
	}
	return out
}

// Config configures an Aggregator.
type Config struct {
	// ProbeTimeout bounds each probe individually (default: 3s).
	ProbeTimeout time.Duration
	// MaxConcurrency limits concurrently running probes (default: all).
	MaxConcurrency int
	// ResourceTimeout bounds resource sampling (default: 2s).
	ResourceTimeout time.Duration
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l.Named("health")
		}
	}
}

// WithResourceSampler attaches host resource usage to snapshots.
func WithResourceSampler(s ResourceSampler) Option {
	return func(a *Aggregator) { a.sampler = s }
}

// WithConnectionCounter attaches the active datastore connection count to snapshots.
func WithConnectionCounter(fn func() int) Option {
	return func(a *Aggregator) { a.conns = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator runs a probe set concurrently and derives the overall status.
type Aggregator struct {
	probes  []Probe
	store   SnapshotWriter
	sampler ResourceSampler
	conns   func() int
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	refresh singleflight.Group

	mu     sync.RWMutex
	latest *Result
}

// NewAggregator creates an aggregator. store may be nil, in which case
// snapshots are built but not persisted.
func NewAggregator(probes []Probe, store SnapshotWriter, cfg Config, opts ...Option) *Aggregator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = len(probes)
	}
	if cfg.ResourceTimeout <= 0 {
		cfg.ResourceTimeout = 2 * time.Second
	}

	a := &Aggregator{
		probes: probes,
		store:  store,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Probes returns the names of the configured probes in order.
func (a *Aggregator) Probes() []string {
	names := make([]string, len(a.probes))
	for i, p := range a.probes {
		names[i] = p.Name()
	}
	return names
}

// RunAll probes every dependency, waits for all of them, persists a snapshot
// and returns the aggregate. It never fails: probe errors, timeouts and
// panics are reported as UNHEALTHY services. If ctx is cancelled before the
// run finishes, the result is returned but neither persisted nor cached,
// since its failures may only reflect the cancellation.
func (a *Aggregator) RunAll(ctx context.Context) *Result {
	services := make([]models.ServiceHealth, len(a.probes))

	var g errgroup.Group
	if a.cfg.MaxConcurrency > 0 {
		g.SetLimit(a.cfg.MaxConcurrency)
	}
	for i, p := range a.probes {
		g.Go(func() error {
			services[i] = a.runProbe(ctx, p)
			return nil
		})
	}
	g.Wait()

	res := &Result{
		Services:   services,
		TotalCount: len(services),
		Timestamp:  a.now(),
	}
	for _, s := range services {
		if s.Healthy() {
			res.HealthyCount++
		}
	}
	unhealthy := res.TotalCount - res.HealthyCount
	res.OverallStatus = OverallFor(unhealthy)

	if err := ctx.Err(); err != nil {
		res.Interrupted = true
		a.logger.Info("health check interrupted, result discarded",
			zap.String("overall", string(res.OverallStatus)),
			zap.Error(err))
		return res
	}

	metrics.HealthRunsTotal.WithLabelValues(string(res.OverallStatus)).Inc()
	metrics.UnhealthyServices.Set(float64(unhealthy))

	res.Snapshot = a.buildSnapshot(ctx, res)
	if a.store != nil {
		if err := a.store.Insert(ctx, res.Snapshot); err != nil {
			res.SnapshotErr = err
			metrics.SnapshotWriteErrors.Inc()
			a.logger.Warn("failed to persist health snapshot",
				zap.String("snapshot_id", res.Snapshot.ID),
				zap.Error(err))
		}
	}

	if unhealthy > 0 {
		a.logger.Warn("health check completed",
			zap.String("overall", string(res.OverallStatus)),
			zap.Int("unhealthy", unhealthy),
			zap.Int("total", res.TotalCount))
	} else {
		a.logger.Debug("health check completed",
			zap.String("overall", string(res.OverallStatus)),
			zap.Int("total", res.TotalCount))
	}

	a.mu.Lock()
	a.latest = res
	a.mu.Unlock()

	return res
}

// Latest returns the result of the most recent run, or nil.
func (a *Aggregator) Latest() *Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Current returns the latest result if it is younger than maxAge, otherwise
// it refreshes.
func (a *Aggregator) Current(ctx context.Context, maxAge time.Duration) *Result {
	if latest := a.Latest(); latest != nil && a.now().Sub(latest.Timestamp) < maxAge {
		return latest
	}
	return a.Refresh(ctx)
}

// Refresh runs the probes now. Concurrent callers share one run. The run is
// detached from ctx's cancellation and bounded by the probe timeouts.
func (a *Aggregator) Refresh(ctx context.Context) *Result {
	detached := context.WithoutCancel(ctx)
	v, _, _ := a.refresh.Do("run", func() (any, error) {
		return a.RunAll(detached), nil
	})
	return v.(*Result)
}

// runProbe executes one probe under its own timeout. The probe runs in its
// own goroutine so one that ignores its context cannot hold up the run.
func (a *Aggregator) runProbe(ctx context.Context, p Probe) models.ServiceHealth {
	name := p.Name()
	h := models.ServiceHealth{Name: name, LastChecked: a.now()}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		errCh <- p.Check(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			err = probeTimeoutError(a.cfg.ProbeTimeout)
		} else {
			err = ctx.Err()
		}
	}
	elapsed := time.Since(start)
	metrics.ProbeDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		h.Status = models.StatusUnhealthy
		h.ResponseTimeMs = models.UnknownResponseTime
		h.Message = err.Error()
		metrics.ProbeFailuresTotal.WithLabelValues(name).Inc()
		metrics.ServiceUp.WithLabelValues(name).Set(0)
		a.logger.Debug("probe failed", zap.String("service", name), zap.Error(err))
		return h
	}

	h.Status = models.StatusHealthy
	h.ResponseTimeMs = elapsed.Milliseconds()
	h.Message = "OK"
	metrics.ServiceUp.WithLabelValues(name).Set(1)
	return h
}

func (a *Aggregator) buildSnapshot(ctx context.Context, res *Result) *models.HealthSnapshot {
	snap := &models.HealthSnapshot{
		ID:            uuid.New().String(),
		CheckedAt:     res.Timestamp,
		OverallStatus: res.OverallStatus,
		Services:      make([]models.ServiceSample, len(res.Services)),
	}
	for i, s := range res.Services {
		snap.Services[i] = models.ServiceSample{
			Name:           s.Name,
			Status:         s.Status,
			ResponseTimeMs: s.ResponseTimeMs,
		}
	}

	if a.sampler != nil {
		sctx, cancel := context.WithTimeout(ctx, a.cfg.ResourceTimeout)
		usage, err := a.sampler.Sample(sctx)
		cancel()
		if err != nil {
			a.logger.Debug("resource sampling failed", zap.Error(err))
		} else {
			snap.Resources = usage
		}
	}
	if a.conns != nil {
		n := a.conns()
		snap.ActiveConnections = &n
	}
	return snap
}
