package models

import "time"

// AuditStatus is the outcome of an audited action.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "SUCCESS"
	AuditFailed  AuditStatus = "FAILED"
)

// Audit action and entity names written by the core.
const (
	ActionAlertCreated      = "ALERT_CREATED"
	ActionAlertAcknowledged = "ALERT_ACKNOWLEDGED"
	ActionAlertResolved     = "ALERT_RESOLVED"
	ActionNotificationQueue = "NOTIFICATION_ENQUEUED"
	ActionNotificationSent  = "NOTIFICATION_SENT"
	ActionNotificationRetry = "NOTIFICATION_RETRY"
	ActionNotificationFail  = "NOTIFICATION_FAILED"

	EntityAlert        = "ALERT"
	EntityNotification = "NOTIFICATION"
)

// AuditRecord is an append-only action record.
type AuditRecord struct {
	ID           string      `json:"id"`
	ActorID      string      `json:"actor_id,omitempty"`
	ActionType   string      `json:"action_type"`
	EntityType   string      `json:"entity_type"`
	EntityID     string      `json:"entity_id,omitempty"`
	Description  string      `json:"description"`
	Severity     Severity    `json:"severity"`
	Status       AuditStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
