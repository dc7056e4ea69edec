// Package notifier delivers queued notifications over concrete channels.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "smtp", "webhook").
	Name() string
	// Send delivers one queued notification.
	Send(ctx context.Context, item *models.QueueItem) error
	// Close releases any resources.
	Close() error
}

var (
	// ErrRateLimited is returned when a recipient exceeded its send budget.
	// The item was not attempted.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrNoChannel is returned when no notifier serves the item's type.
	ErrNoChannel = errors.New("no notifier registered for channel")
)

// Dispatcher routes queued notifications to the notifier registered for
// their channel.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[models.NotificationType]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a dispatcher with default per-recipient rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[models.NotificationType]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register sets the notifier for a channel, replacing any previous one.
func (d *Dispatcher) Register(channel models.NotificationType, n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[channel] = n
}

// Unregister removes the notifier for a channel.
func (d *Dispatcher) Unregister(channel models.NotificationType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, channel)
}

// Get returns the notifier for a channel.
func (d *Dispatcher) Get(channel models.NotificationType) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[channel]
	return n, ok
}

// Channels returns the channels that have a notifier, sorted.
func (d *Dispatcher) Channels() []models.NotificationType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.NotificationType, 0, len(d.notifiers))
	for c := range d.notifiers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send delivers item through the notifier for its channel.
func (d *Dispatcher) Send(ctx context.Context, item *models.QueueItem) error {
	n, ok := d.Get(item.NotificationType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannel, item.NotificationType)
	}

	key := recipientKey(item)
	if d.rateLimiter != nil && !d.rateLimiter.Allow(key) {
		return ErrRateLimited
	}

	if err := n.Send(ctx, item); err != nil {
		// A failed attempt does not count against the recipient.
		if d.rateLimiter != nil {
			d.rateLimiter.Release(key)
		}
		return fmt.Errorf("%s: %w", n.Name(), err)
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	seen := make(map[Notifier]bool)
	for channel, n := range d.notifiers {
		if seen[n] {
			continue
		}
		seen[n] = true
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		}
	}
	d.notifiers = make(map[models.NotificationType]Notifier)

	return errors.Join(errs...)
}

// recipientKey identifies the destination of an item for rate limiting.
func recipientKey(item *models.QueueItem) string {
	switch item.NotificationType {
	case models.NotificationEmail:
		if item.RecipientEmail != "" {
			return "email:" + item.RecipientEmail
		}
	case models.NotificationSMS:
		if item.RecipientPhone != "" {
			return "sms:" + item.RecipientPhone
		}
	}
	if item.RecipientID != "" {
		return string(item.NotificationType) + ":id:" + item.RecipientID
	}
	return string(item.NotificationType)
}
