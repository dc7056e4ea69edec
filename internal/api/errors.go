package api

import (
	"errors"
	"net/http"

	"github.com/good-yellow-bee/vigil/internal/alerting"
	"github.com/good-yellow-bee/vigil/internal/delivery"
)

// Error represents an API error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeUnavailable      = "UNAVAILABLE"
)

// Standard errors
var (
	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "Resource not found",
		Status:  http.StatusNotFound,
	}

	ErrAlertNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "Alert not found",
		Status:  http.StatusNotFound,
	}

	ErrNotificationNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "Notification not found",
		Status:  http.StatusNotFound,
	}

	ErrInternalServer = &Error{
		Code:    ErrCodeInternalError,
		Message: "Internal server error",
		Status:  http.StatusInternalServerError,
	}

	ErrUnavailable = &Error{
		Code:    ErrCodeUnavailable,
		Message: "Storage temporarily unavailable",
		Status:  http.StatusServiceUnavailable,
	}
)

// NewBadRequest creates a bad request error with custom message.
func NewBadRequest(message string) *Error {
	return &Error{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// NewValidationError creates a validation error with custom message.
func NewValidationError(message string) *Error {
	return &Error{
		Code:    ErrCodeValidationFailed,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// NewConflict creates a conflict error with custom message.
func NewConflict(message string) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// NewNotFound creates a not found error with custom message.
func NewNotFound(message string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: message,
		Status:  http.StatusNotFound,
	}
}

// toAPIError maps a core error to its API representation. Anything
// unrecognised is treated as a storage failure.
func toAPIError(err error) *Error {
	var apiErr *Error
	var verr *delivery.ValidationError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &verr), errors.Is(err, alerting.ErrInvalidRequest):
		return NewValidationError(err.Error())
	case errors.Is(err, alerting.ErrAlertNotFound):
		return ErrAlertNotFound
	case errors.Is(err, delivery.ErrItemNotFound):
		return ErrNotificationNotFound
	case errors.Is(err, alerting.ErrInvalidTransition):
		return NewConflict(err.Error())
	default:
		return ErrUnavailable
	}
}
