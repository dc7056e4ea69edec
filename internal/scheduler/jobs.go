package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/vigil/internal/delivery"
	"github.com/good-yellow-bee/vigil/internal/health"
	"github.com/good-yellow-bee/vigil/internal/models"
)

// Job names.
const (
	JobHealth     = "health"
	JobQueueDrain = "queue-drain"
	JobRetention  = "retention"
)

// HealthRunner runs all probes.
type HealthRunner interface {
	RunAll(ctx context.Context) *health.Result
}

// AlertEvaluator turns a health result into alerts.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, res *health.Result) ([]*models.Alert, error)
}

// Drainer delivers due notifications.
type Drainer interface {
	DrainDue(ctx context.Context, batchSize int) ([]delivery.Outcome, error)
}

// SnapshotPruner removes old snapshots.
type SnapshotPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// HealthJob probes every dependency and raises alerts for failures.
func HealthJob(runner HealthRunner, engine AlertEvaluator, every time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:  JobHealth,
		Every: every,
		Run: func(ctx context.Context) error {
			res := runner.RunAll(ctx)
			if res.Interrupted {
				return ctx.Err()
			}
			created, err := engine.Evaluate(ctx, res)
			if logger != nil {
				logger.Info("health check completed",
					zap.String("overall", string(res.OverallStatus)),
					zap.Int("healthy", res.HealthyCount),
					zap.Int("total", res.TotalCount),
					zap.Int("alerts_created", len(created)))
			}
			if err != nil {
				return fmt.Errorf("evaluate alerts: %w", err)
			}
			return nil
		},
	}
}

// DrainJob delivers up to batch due notifications per run.
func DrainJob(q Drainer, batch int, every time.Duration) Job {
	return Job{
		Name:  JobQueueDrain,
		Every: every,
		Run: func(ctx context.Context) error {
			outcomes, err := q.DrainDue(ctx, batch)
			if err != nil {
				return err
			}
			var errs []error
			for _, o := range outcomes {
				// Delivery failures are recorded on the item; only
				// persistence problems surface here.
				if o.StoreErr != nil {
					errs = append(errs, fmt.Errorf("notification %s: %w", o.ItemID, o.StoreErr))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// RetentionJob deletes snapshots older than maxAge. Alerts are kept
// forever. A zero maxAge makes the job a no-op.
func RetentionJob(snapshots SnapshotPruner, maxAge, every time.Duration, now func() time.Time, logger *zap.Logger) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:  JobRetention,
		Every: every,
		Run: func(ctx context.Context) error {
			if maxAge <= 0 || snapshots == nil {
				return nil
			}
			n, err := snapshots.DeleteBefore(ctx, now().Add(-maxAge))
			if err != nil {
				return fmt.Errorf("prune snapshots: %w", err)
			}
			if logger != nil && n > 0 {
				logger.Info("retention pruned snapshots", zap.Int64("snapshots", n))
			}
			return nil
		},
	}
}
