// Package scheduler runs the periodic health, delivery and retention jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/vigil/internal/logging"
	"github.com/good-yellow-bee/vigil/internal/metrics"
)

var (
	// ErrJobNotFound is returned by RunNow for unknown job names.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned by RunNow when the job is already running.
	ErrJobRunning = errors.New("job already running")
)

// Job is a named unit of periodic work.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name      string        `json:"name"`
	Every     time.Duration `json:"every"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	NextRun   time.Time     `json:"next_run,omitempty"`
}

type jobState struct {
	job     Job
	entryID cron.EntryID

	// running is held for the duration of a run, scheduled or not.
	running sync.Mutex

	mu       sync.Mutex
	runs     int64
	failures int64
	lastRun  time.Time
	lastErr  string
}

// interval fires every d after the previous activation. Unlike
// cron.Every it does not round to whole seconds.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	jobs    map[string]*jobState
	started bool
	stopped bool
}

// New creates a scheduler. Jobs are registered with Add and begin firing
// after Start.
func New(logger *zap.Logger) *Scheduler {
	logger = logging.OrNop(logger).Named("scheduler")
	cl := logging.CronLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*jobState),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Every <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler stopped")
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	st := &jobState{job: job}
	st.entryID = s.cron.Schedule(interval(job.Every), cron.FuncJob(func() {
		s.execute(s.ctx, st)
	}))
	s.jobs[job.Name] = st

	s.logger.Info("job registered", zap.String("job", job.Name), zap.Duration("every", job.Every))
	return nil
}

// Start begins firing jobs. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop prevents new runs and waits for running jobs to return. If ctx ends
// first, running jobs are cancelled and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	done := s.cron.Stop().Done()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.logger.Warn("scheduler stop timed out, cancelling running jobs")
	}
	s.cancel()
	if err != nil {
		<-done
	}

	s.logger.Info("scheduler stopped")
	return err
}

// RunNow runs a registered job synchronously, outside its schedule. It shares
// failure isolation and bookkeeping with scheduled runs. It returns
// ErrJobRunning without running anything if the job is already in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	st, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.execute(ctx, st)
}

// Jobs returns the status of every registered job sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, st := range s.jobs {
		st.mu.Lock()
		js := JobStatus{
			Name:      st.job.Name,
			Every:     st.job.Every,
			Runs:      st.runs,
			Failures:  st.failures,
			LastRun:   st.lastRun,
			LastError: st.lastErr,
		}
		st.mu.Unlock()
		if s.started {
			js.NextRun = s.cron.Entry(st.entryID).Next
		}
		out = append(out, js)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// execute runs one job body. Errors and panics are logged and counted and
// never escape to the cron runner. A job never overlaps itself: a run that
// finds the job busy is skipped and not counted.
func (s *Scheduler) execute(ctx context.Context, st *jobState) (err error) {
	name := st.job.Name
	if !st.running.TryLock() {
		metrics.JobRunsTotal.WithLabelValues(name, "skipped").Inc()
		s.logger.Debug("job still running, skipping", zap.String("job", name))
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer st.running.Unlock()

	start := time.Now()

	defer func() {
		result := "success"
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			result = "panic"
			s.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r), zap.Stack("stack"))
		} else if err != nil {
			result = "error"
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		}

		elapsed := time.Since(start)
		metrics.JobRunsTotal.WithLabelValues(name, result).Inc()
		metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())

		st.mu.Lock()
		st.runs++
		st.lastRun = start
		st.lastErr = ""
		if err != nil {
			st.failures++
			st.lastErr = err.Error()
		}
		st.mu.Unlock()

		s.logger.Debug("job finished", zap.String("job", name), zap.String("result", result), zap.Duration("elapsed", elapsed))
	}()

	return st.job.Run(ctx)
}
