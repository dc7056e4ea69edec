// Package audit provides a best-effort, non-blocking audit write path.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/vigil/internal/metrics"
	"github.com/good-yellow-bee/vigil/internal/models"
)

// Entry is an action to record.
type Entry struct {
	ActorID      string
	ActionType   string
	EntityType   string
	EntityID     string
	Description  string
	Severity     models.Severity
	Status       models.AuditStatus
	ErrorMessage string
}

// Recorder accepts audit entries. Record must not block the caller.
type Recorder interface {
	Record(e Entry)
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Entry) {}

// Writer persists batches of audit records.
type Writer interface {
	InsertBatch(ctx context.Context, records []*models.AuditRecord) error
}

// Config holds Sink configuration.
type Config struct {
	// MaxSize is the maximum number of buffered records. When reached, the
	// oldest records are dropped.
	MaxSize int
	// BatchSize is the maximum number of records per write.
	BatchSize int
	// WriteTimeout bounds each batch write.
	WriteTimeout time.Duration
}

// Sink buffers audit entries in memory and writes them from a single
// background goroutine.
type Sink struct {
	writer Writer
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	buffer []*models.AuditRecord

	signal  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped atomic.Bool

	dropped atomic.Int64
	written atomic.Int64
	failed  atomic.Int64
}

// NewSink creates a sink and starts its writer goroutine.
func NewSink(w Writer, cfg Config, logger *zap.Logger) *Sink {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sink{
		writer: w,
		cfg:    cfg,
		logger: logger.Named("audit"),
		now:    time.Now,
		buffer: make([]*models.AuditRecord, 0, cfg.BatchSize),
		signal: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go s.run()
	return s
}

// Record enqueues an entry. It never blocks; when the buffer is full the
// oldest buffered entry is discarded.
func (s *Sink) Record(e Entry) {
	if s.stopped.Load() {
		return
	}

	rec := &models.AuditRecord{
		ID:           uuid.New().String(),
		ActorID:      e.ActorID,
		ActionType:   e.ActionType,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		Description:  e.Description,
		Severity:     e.Severity,
		Status:       e.Status,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    s.now(),
	}
	if rec.Severity == "" {
		rec.Severity = models.SeverityLow
	}
	if rec.Status == "" {
		rec.Status = models.AuditSuccess
	}

	s.mu.Lock()
	if len(s.buffer) >= s.cfg.MaxSize {
		toDrop := len(s.buffer) - s.cfg.MaxSize + 1
		s.buffer = s.buffer[toDrop:]
		s.dropped.Add(int64(toDrop))
		metrics.AuditDroppedTotal.Add(float64(toDrop))
	}
	s.buffer = append(s.buffer, rec)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Sink) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.signal:
			s.drain()
		case <-s.stopCh:
			s.drain()
			return
		}
	}
}

// drain writes buffered records until the buffer is empty. Failed batches
// are logged and discarded.
func (s *Sink) drain() {
	for {
		s.mu.Lock()
		n := len(s.buffer)
		if n == 0 {
			s.mu.Unlock()
			return
		}
		if n > s.cfg.BatchSize {
			n = s.cfg.BatchSize
		}
		batch := make([]*models.AuditRecord, n)
		copy(batch, s.buffer[:n])
		s.buffer = s.buffer[n:]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		err := s.writer.InsertBatch(ctx, batch)
		cancel()

		if err != nil {
			s.failed.Add(int64(len(batch)))
			metrics.AuditWriteErrors.Inc()
			s.logger.Warn("audit write failed", zap.Int("records", len(batch)), zap.Error(err))
			continue
		}
		s.written.Add(int64(len(batch)))
		metrics.AuditWrittenTotal.Add(float64(len(batch)))
	}
}

// Close stops accepting entries and writes what is still buffered.
func (s *Sink) Close() error {
	if s.stopped.Swap(true) {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// Stats contains sink statistics.
type Stats struct {
	// Pending is the number of records waiting to be written.
	Pending int
	// Dropped is the number of records discarded due to overflow.
	Dropped int64
	// Written is the number of records persisted.
	Written int64
	// Failed is the number of records lost to write errors.
	Failed int64
}

// Stats returns sink statistics.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	pending := len(s.buffer)
	s.mu.Unlock()

	return Stats{
		Pending: pending,
		Dropped: s.dropped.Load(),
		Written: s.written.Load(),
		Failed:  s.failed.Load(),
	}
}
