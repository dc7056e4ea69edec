package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// mockNotifier records sent items and optionally fails.
type mockNotifier struct {
	name   string
	mu     sync.Mutex
	sent   []*models.QueueItem
	err    error
	closed int
}

func (m *mockNotifier) Name() string {
	return m.name
}

func (m *mockNotifier) Send(ctx context.Context, item *models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, item)
	return nil
}

func (m *mockNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func emailItem(to string) *models.QueueItem {
	return &models.QueueItem{
		ID:               "n-1",
		NotificationType: models.NotificationEmail,
		RecipientType:    models.RecipientExternal,
		RecipientEmail:   to,
		Subject:          "Service Health Alert",
		Message:          "stall-service is UNHEALTHY",
		Priority:         models.PriorityHigh,
		ScheduledAt:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatcherRoutesByChannel(t *testing.T) {
	d := NewDispatcher()
	email := &mockNotifier{name: "smtp"}
	webhook := &mockNotifier{name: "webhook"}
	d.Register(models.NotificationEmail, email)
	d.Register(models.NotificationWebhook, webhook)

	if err := d.Send(context.Background(), emailItem("ops@example.com")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	hook := &models.QueueItem{ID: "n-2", NotificationType: models.NotificationWebhook, RecipientType: models.RecipientExternal}
	if err := d.Send(context.Background(), hook); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if email.count() != 1 || webhook.count() != 1 {
		t.Errorf("sent email=%d webhook=%d, want 1 and 1", email.count(), webhook.count())
	}

	channels := d.Channels()
	if len(channels) != 2 || channels[0] != models.NotificationEmail {
		t.Errorf("Channels() = %v", channels)
	}
}

func TestDispatcherNoChannel(t *testing.T) {
	d := NewDispatcher()

	item := &models.QueueItem{NotificationType: models.NotificationSMS, RecipientPhone: "+15550100"}
	err := d.Send(context.Background(), item)
	if !errors.Is(err, ErrNoChannel) {
		t.Errorf("err = %v, want ErrNoChannel", err)
	}
}

func TestDispatcherRateLimitsPerRecipient(t *testing.T) {
	d := NewDispatcherWithRateLimit(RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: true})
	email := &mockNotifier{name: "smtp"}
	d.Register(models.NotificationEmail, email)

	ctx := context.Background()
	if err := d.Send(ctx, emailItem("a@example.com")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := d.Send(ctx, emailItem("a@example.com")); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second send err = %v, want ErrRateLimited", err)
	}
	if err := d.Send(ctx, emailItem("b@example.com")); err != nil {
		t.Errorf("other recipient: %v", err)
	}
	if got := d.RateLimitStats().Dropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestDispatcherRefundsOnFailure(t *testing.T) {
	d := NewDispatcherWithRateLimit(RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: true})
	failing := &mockNotifier{name: "smtp", err: errors.New("connection refused")}
	d.Register(models.NotificationEmail, failing)

	ctx := context.Background()
	err := d.Send(ctx, emailItem("a@example.com"))
	if err == nil || err.Error() != "smtp: connection refused" {
		t.Fatalf("err = %v", err)
	}

	failing.err = nil
	if err := d.Send(ctx, emailItem("a@example.com")); err != nil {
		t.Errorf("retry after failure should not be rate limited: %v", err)
	}
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher()
	shared := &mockNotifier{name: "webhook"}
	d.Register(models.NotificationWebhook, shared)
	d.Register(models.NotificationSMS, shared)

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if shared.closed != 1 {
		t.Errorf("closed %d times, want 1", shared.closed)
	}
	if _, ok := d.Get(models.NotificationWebhook); ok {
		t.Error("notifier still registered after Close")
	}
}

func TestRecipientKey(t *testing.T) {
	tests := []struct {
		name string
		item *models.QueueItem
		want string
	}{
		{"email address", &models.QueueItem{NotificationType: models.NotificationEmail, RecipientEmail: "a@example.com", RecipientID: "u1"}, "email:a@example.com"},
		{"email by user id", &models.QueueItem{NotificationType: models.NotificationEmail, RecipientID: "u1"}, "EMAIL:id:u1"},
		{"sms phone", &models.QueueItem{NotificationType: models.NotificationSMS, RecipientPhone: "+15550100"}, "sms:+15550100"},
		{"webhook", &models.QueueItem{NotificationType: models.NotificationWebhook}, "WEBHOOK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recipientKey(tt.item); got != tt.want {
				t.Errorf("recipientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	if n.Name() != "log" {
		t.Errorf("Name() = %q", n.Name())
	}
	if err := n.Send(context.Background(), emailItem("a@example.com")); err != nil {
		t.Errorf("Send failed: %v", err)
	}
}
