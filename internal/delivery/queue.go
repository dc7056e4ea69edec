// Package delivery implements the persistent notification queue and its
// drain loop.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/vigil/internal/audit"
	"github.com/good-yellow-bee/vigil/internal/metrics"
	"github.com/good-yellow-bee/vigil/internal/models"
	"github.com/good-yellow-bee/vigil/internal/notifier"
)

// ErrItemNotFound is returned for unknown queue item ids.
var ErrItemNotFound = errors.New("notification not found")

// Store is the persistence the queue needs.
type Store interface {
	Create(ctx context.Context, item *models.QueueItem) error
	GetByID(ctx context.Context, id string) (*models.QueueItem, error)
	Update(ctx context.Context, item *models.QueueItem) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error)
	List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error)
	Counts(ctx context.Context) (models.QueueCounts, error)
}

// Sender delivers one item. notifier.Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, item *models.QueueItem) error
}

// Result is the outcome of one delivery attempt.
type Result string

const (
	ResultSent     Result = "sent"
	ResultRetry    Result = "retry"
	ResultFailed   Result = "failed"
	ResultDeferred Result = "deferred"
)

// Outcome reports what happened to one item during a drain.
type Outcome struct {
	ItemID     string
	Result     Result
	RetryCount int
	// Err is the delivery error, if any.
	Err error
	// StoreErr is set when the new item state could not be saved.
	StoreErr error
}

// Config configures a Queue.
type Config struct {
	// SendTimeout bounds each notifier call (default: 30s).
	SendTimeout time.Duration
	// Backoff delays retries. The zero value retries on the next drain.
	Backoff Backoff
	// RateLimit caps deliveries per second across drains. Zero disables it.
	RateLimit rate.Limit
	// Burst is the limiter burst size (default: 1).
	Burst int
}

// Options holds optional collaborators.
type Options struct {
	Audit  audit.Recorder
	Logger *zap.Logger
	Now    func() time.Time
}

// Queue accepts notifications and delivers due ones in priority order.
type Queue struct {
	store   Store
	sender  Sender
	cfg     Config
	limiter *rate.Limiter
	audit   audit.Recorder
	logger  *zap.Logger
	now     func() time.Time

	// drainMu allows one drain at a time.
	drainMu sync.Mutex
}

// NewQueue creates a delivery queue.
func NewQueue(store Store, sender Sender, cfg Config, opts Options) *Queue {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	q := &Queue{
		store:  store,
		sender: sender,
		cfg:    cfg,
		audit:  opts.Audit,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if cfg.RateLimit > 0 {
		q.limiter = rate.NewLimiter(cfg.RateLimit, cfg.Burst)
	}
	if q.audit == nil {
		q.audit = audit.Discard
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	q.logger = q.logger.Named("delivery")
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Enqueue validates item, fills defaults and stores it as PENDING.
// The caller's item is updated in place.
func (q *Queue) Enqueue(ctx context.Context, item *models.QueueItem) error {
	if item == nil {
		return &ValidationError{Field: "item", Message: "is required"}
	}
	if err := validateItem(item); err != nil {
		return err
	}

	now := q.now()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Priority == "" {
		item.Priority = models.PriorityMedium
	}
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = now
	}
	if item.MaxRetries == 0 {
		item.MaxRetries = models.DefaultMaxRetries
	}
	item.Status = models.QueuePending
	item.RetryCount = 0
	item.SentAt = nil
	item.ErrorMessage = ""
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := q.store.Create(ctx, item); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	metrics.QueueEnqueuedTotal.WithLabelValues(string(item.NotificationType)).Inc()
	q.audit.Record(audit.Entry{
		ActorID:     item.CreatedBy,
		ActionType:  models.ActionNotificationQueue,
		EntityType:  models.EntityNotification,
		EntityID:    item.ID,
		Description: fmt.Sprintf("%s notification queued with %s priority", item.NotificationType, item.Priority),
	})
	q.logger.Debug("notification queued",
		zap.String("id", item.ID),
		zap.String("type", string(item.NotificationType)),
		zap.String("priority", string(item.Priority)),
		zap.Time("scheduled_at", item.ScheduledAt))

	return nil
}

// EnqueueEmail queues an e-mail to an external address.
func (q *Queue) EnqueueEmail(ctx context.Context, to, subject, message string, priority models.Priority, createdBy string) (*models.QueueItem, error) {
	item := &models.QueueItem{
		NotificationType: models.NotificationEmail,
		RecipientType:    models.RecipientExternal,
		RecipientEmail:   to,
		Subject:          subject,
		Message:          message,
		Priority:         priority,
		CreatedBy:        createdBy,
	}
	if err := q.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// DrainDue delivers up to batchSize due items, highest priority first.
// Items are attempted one at a time; a failing or panicking notifier only
// affects its own item. The drain stops early when ctx is cancelled or the
// rate limit is exhausted; untouched items stay PENDING.
func (q *Queue) DrainDue(ctx context.Context, batchSize int) ([]Outcome, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.QueueDrainDuration.Observe(time.Since(start).Seconds())
	}()

	items, err := q.store.ListDue(ctx, q.now(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}

	outcomes := make([]Outcome, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if q.limiter != nil && !q.limiter.Allow() {
			metrics.QueueRateLimitedTotal.Inc()
			q.logger.Debug("drain rate limited", zap.Int("remaining", len(items)-len(outcomes)))
			break
		}
		outcomes = append(outcomes, q.deliver(ctx, item))
	}

	if len(outcomes) > 0 {
		q.logger.Info("queue drained", zap.Int("due", len(items)), zap.Int("processed", len(outcomes)))
	}
	return outcomes, nil
}

func (q *Queue) deliver(ctx context.Context, item *models.QueueItem) Outcome {
	sendErr := q.send(ctx, item)
	now := q.now()

	if errors.Is(sendErr, notifier.ErrRateLimited) {
		metrics.QueueDeliveriesTotal.WithLabelValues(string(ResultDeferred)).Inc()
		return Outcome{ItemID: item.ID, Result: ResultDeferred, RetryCount: item.RetryCount, Err: sendErr}
	}

	var (
		result Result
		action string
		desc   string
		status = models.AuditSuccess
	)
	if sendErr == nil {
		item.Status = models.QueueSent
		item.SentAt = &now
		item.ErrorMessage = ""
		result, action = ResultSent, models.ActionNotificationSent
		desc = fmt.Sprintf("%s notification delivered", item.NotificationType)
	} else {
		item.RetryCount++
		item.ErrorMessage = sendErr.Error()
		status = models.AuditFailed
		if item.RetryCount > item.MaxRetries {
			item.Status = models.QueueFailed
			result, action = ResultFailed, models.ActionNotificationFail
			desc = fmt.Sprintf("%s notification failed after %d attempts", item.NotificationType, item.RetryCount)
		} else {
			if d := q.cfg.Backoff.Delay(item.RetryCount); d > 0 {
				item.ScheduledAt = now.Add(d)
			}
			result, action = ResultRetry, models.ActionNotificationRetry
			desc = fmt.Sprintf("%s notification attempt %d failed", item.NotificationType, item.RetryCount)
		}
	}
	item.UpdatedAt = now

	if err := q.store.Update(ctx, item); err != nil {
		// The next drain sees the previous state and may send again.
		q.logger.Error("failed to persist delivery outcome",
			zap.String("id", item.ID),
			zap.String("result", string(result)),
			zap.Error(err))
		return Outcome{ItemID: item.ID, Result: result, RetryCount: item.RetryCount, Err: sendErr, StoreErr: err}
	}

	metrics.QueueDeliveriesTotal.WithLabelValues(string(result)).Inc()
	q.audit.Record(audit.Entry{
		ActionType:   action,
		EntityType:   models.EntityNotification,
		EntityID:     item.ID,
		Description:  desc,
		Status:       status,
		ErrorMessage: item.ErrorMessage,
	})

	if sendErr != nil {
		q.logger.Warn("notification delivery failed",
			zap.String("id", item.ID),
			zap.Int("retry_count", item.RetryCount),
			zap.Int("max_retries", item.MaxRetries),
			zap.String("status", string(item.Status)),
			zap.Error(sendErr))
	}

	return Outcome{ItemID: item.ID, Result: result, RetryCount: item.RetryCount, Err: sendErr}
}

// send calls the notifier under its own timeout and converts a panic into
// an error.
func (q *Queue) send(ctx context.Context, item *models.QueueItem) (err error) {
	sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("notifier panicked", zap.String("id", item.ID), zap.Any("panic", r))
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()

	return q.sender.Send(sendCtx, item)
}

// Get returns one item.
func (q *Queue) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	item, err := q.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load notification: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return item, nil
}

// List returns items newest first.
func (q *Queue) List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error) {
	return q.store.List(ctx, filter)
}

// Status returns the number of items in each delivery state.
func (q *Queue) Status(ctx context.Context) (models.QueueCounts, error) {
	return q.store.Counts(ctx)
}
