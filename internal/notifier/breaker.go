package notifier

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/vigil/internal/metrics"
	"github.com/good-yellow-bee/vigil/internal/models"
)

// BreakerConfig configures a circuit breaker around a notifier.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker (default: 5).
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing (default: 30s).
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial sends while half-open (default: 1).
	HalfOpenRequests uint32
}

// BreakerNotifier stops calling a failing transport until it recovers.
// While open, Send returns gobreaker.ErrOpenState without contacting the
// transport.
type BreakerNotifier struct {
	next Notifier
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps n in a circuit breaker.
func WithBreaker(n Notifier, cfg BreakerConfig, logger *zap.Logger) *BreakerNotifier {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	name := n.Name()
	metrics.NotifierBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.NotifierBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("notifier circuit breaker state changed",
				zap.String("notifier", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &BreakerNotifier{
		next: n,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Name returns the wrapped notifier's name.
func (b *BreakerNotifier) Name() string {
	return b.next.Name()
}

// Send delivers through the wrapped notifier unless the breaker is open.
func (b *BreakerNotifier) Send(ctx context.Context, item *models.QueueItem) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, item)
	})
	return err
}

// State returns the breaker state.
func (b *BreakerNotifier) State() gobreaker.State {
	return b.cb.State()
}

// Close closes the wrapped notifier.
func (b *BreakerNotifier) Close() error {
	return b.next.Close()
}
