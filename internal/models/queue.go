package models

import "time"

// NotificationType is the delivery channel of a queued notification.
type NotificationType string

const (
	NotificationEmail   NotificationType = "EMAIL"
	NotificationSMS     NotificationType = "SMS"
	NotificationWebhook NotificationType = "WEBHOOK"
)

// IsValid reports whether t is a known channel.
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationEmail, NotificationSMS, NotificationWebhook:
		return true
	}
	return false
}

// RecipientType describes who receives a notification.
type RecipientType string

const (
	RecipientUser     RecipientType = "USER"
	RecipientAdmin    RecipientType = "ADMIN"
	RecipientExternal RecipientType = "EXTERNAL"
)

// IsValid reports whether t is a known recipient type.
func (t RecipientType) IsValid() bool {
	switch t {
	case RecipientUser, RecipientAdmin, RecipientExternal:
		return true
	}
	return false
}

// Priority orders queued notifications.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank maps a priority to a sortable integer, LOW=1 through URGENT=4.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// PriorityFromRank is the inverse of Priority.Rank.
func PriorityFromRank(rank int) Priority {
	switch rank {
	case 1:
		return PriorityLow
	case 2:
		return PriorityMedium
	case 3:
		return PriorityHigh
	case 4:
		return PriorityUrgent
	}
	return ""
}

// QueueStatus is the delivery state of a queued notification.
type QueueStatus string

const (
	QueuePending QueueStatus = "PENDING"
	QueueSent    QueueStatus = "SENT"
	QueueFailed  QueueStatus = "FAILED"
)

// IsValid reports whether s is a known queue status.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueuePending, QueueSent, QueueFailed:
		return true
	}
	return false
}

// Terminal reports whether no further delivery attempts will be made.
func (s QueueStatus) Terminal() bool {
	return s == QueueSent || s == QueueFailed
}

// DefaultMaxRetries is applied when an item is enqueued without a retry limit.
const DefaultMaxRetries = 3

// QueueItem is one outbound notification.
type QueueItem struct {
	ID               string           `json:"id"`
	NotificationType NotificationType `json:"notification_type"`
	RecipientType    RecipientType    `json:"recipient_type"`
	RecipientID      string           `json:"recipient_id,omitempty"`
	RecipientEmail   string           `json:"recipient_email,omitempty"`
	RecipientPhone   string           `json:"recipient_phone,omitempty"`
	Subject          string           `json:"subject"`
	Message          string           `json:"message"`
	Priority         Priority         `json:"priority"`
	Status           QueueStatus      `json:"status"`
	ScheduledAt      time.Time        `json:"scheduled_at"`
	SentAt           *time.Time       `json:"sent_at,omitempty"`
	RetryCount       int              `json:"retry_count"`
	MaxRetries       int              `json:"max_retries"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CreatedBy        string           `json:"created_by,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// QueueFilter narrows queue listings. Zero values are ignored.
type QueueFilter struct {
	Status QueueStatus
	Limit  int
}

// QueueCounts is the number of items per status.
type QueueCounts struct {
	Pending int64 `json:"pending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

// Total returns the number of items across all statuses.
func (c QueueCounts) Total() int64 {
	return c.Pending + c.Sent + c.Failed
}
