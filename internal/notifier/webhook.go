package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// WebhookConfig holds outbound webhook configuration.
type WebhookConfig struct {
	Name    string            // Notifier name (default: "webhook")
	URL     string            // Endpoint receiving the JSON payload
	Headers map[string]string // Extra request headers, e.g. an API key
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// WebhookNotifier posts notifications as JSON. It serves WEBHOOK items and,
// pointed at an SMS gateway, SMS items.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier. A nil client gets a
// 30 second timeout.
func NewWebhookNotifier(config WebhookConfig, client *http.Client) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Name == "" {
		config.Name = "webhook"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &WebhookNotifier{
		config:     config,
		httpClient: client,
	}, nil
}

// Name returns the configured notifier name.
func (w *WebhookNotifier) Name() string {
	return w.config.Name
}

// webhookPayload is the JSON body posted for each notification.
type webhookPayload struct {
	ID             string    `json:"id"`
	Channel        string    `json:"channel"`
	RecipientType  string    `json:"recipient_type"`
	RecipientID    string    `json:"recipient_id,omitempty"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	RecipientPhone string    `json:"recipient_phone,omitempty"`
	Subject        string    `json:"subject"`
	Message        string    `json:"message"`
	Priority       string    `json:"priority"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	Attempt        int       `json:"attempt"`
}

// Send posts the notification.
func (w *WebhookNotifier) Send(ctx context.Context, item *models.QueueItem) error {
	payload := webhookPayload{
		ID:             item.ID,
		Channel:        string(item.NotificationType),
		RecipientType:  string(item.RecipientType),
		RecipientID:    item.RecipientID,
		RecipientEmail: item.RecipientEmail,
		RecipientPhone: item.RecipientPhone,
		Subject:        subjectFor(item),
		Message:        item.Message,
		Priority:       string(item.Priority),
		ScheduledAt:    item.ScheduledAt.UTC(),
		Attempt:        item.RetryCount + 1,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", item.ID)
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close releases idle connections.
func (w *WebhookNotifier) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}
