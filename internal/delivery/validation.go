package delivery

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// ValidationError describes an item rejected by Enqueue.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,}$`)

// validateItem checks channel, recipient and retry settings.
func validateItem(item *models.QueueItem) error {
	if !item.NotificationType.IsValid() {
		return &ValidationError{Field: "notification_type", Message: fmt.Sprintf("unknown type %q", item.NotificationType)}
	}
	if !item.RecipientType.IsValid() {
		return &ValidationError{Field: "recipient_type", Message: fmt.Sprintf("unknown type %q", item.RecipientType)}
	}
	if item.Priority != "" && !item.Priority.IsValid() {
		return &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", item.Priority)}
	}
	if strings.TrimSpace(item.Message) == "" {
		return &ValidationError{Field: "message", Message: "is required"}
	}
	if item.MaxRetries < 0 {
		return &ValidationError{Field: "max_retries", Message: "must not be negative"}
	}

	// Internal recipients may be resolved by id downstream.
	byID := item.RecipientID != "" && item.RecipientType != models.RecipientExternal

	switch item.NotificationType {
	case models.NotificationEmail:
		if item.RecipientEmail == "" {
			if !byID {
				return &ValidationError{Field: "recipient_email", Message: "is required for EMAIL"}
			}
			break
		}
		if _, err := mail.ParseAddress(item.RecipientEmail); err != nil {
			return &ValidationError{Field: "recipient_email", Message: "is not a valid address"}
		}
	case models.NotificationSMS:
		if item.RecipientPhone == "" {
			if !byID {
				return &ValidationError{Field: "recipient_phone", Message: "is required for SMS"}
			}
			break
		}
		if !phonePattern.MatchString(item.RecipientPhone) {
			return &ValidationError{Field: "recipient_phone", Message: "is not a valid phone number"}
		}
	}

	return nil
}
