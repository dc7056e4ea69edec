package models

import (
	"fmt"
	"time"
)

// AlertType classifies what raised an alert.
type AlertType string

const (
	AlertTypeServiceDown          AlertType = "SERVICE_DOWN"
	AlertTypeDatabaseError        AlertType = "DATABASE_ERROR"
	AlertTypeHighCPUUsage         AlertType = "HIGH_CPU_USAGE"
	AlertTypeHighMemoryUsage      AlertType = "HIGH_MEMORY_USAGE"
	AlertTypeSlowResponse         AlertType = "SLOW_RESPONSE"
	AlertTypeAuthenticationFailed AlertType = "AUTHENTICATION_FAILURE"
	AlertTypeSecurityBreach       AlertType = "SECURITY_BREACH"
	AlertTypeDataInconsistency    AlertType = "DATA_INCONSISTENCY"
	AlertTypeCustom               AlertType = "CUSTOM"
)

var validAlertTypes = map[AlertType]bool{
	AlertTypeServiceDown:          true,
	AlertTypeDatabaseError:        true,
	AlertTypeHighCPUUsage:         true,
	AlertTypeHighMemoryUsage:      true,
	AlertTypeSlowResponse:         true,
	AlertTypeAuthenticationFailed: true,
	AlertTypeSecurityBreach:       true,
	AlertTypeDataInconsistency:    true,
	AlertTypeCustom:               true,
}

// IsValid reports whether t is a known alert type.
func (t AlertType) IsValid() bool {
	return validAlertTypes[t]
}

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from LOW (1) to CRITICAL (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// ParseSeverity parses a severity name.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.IsValid() {
		return "", fmt.Errorf("invalid severity: %q", s)
	}
	return sev, nil
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "OPEN"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
)

// IsValid reports whether s is a known alert status.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertOpen, AlertAcknowledged, AlertResolved:
		return true
	}
	return false
}

// Active reports whether the alert still needs attention.
func (s AlertStatus) Active() bool {
	return s == AlertOpen || s == AlertAcknowledged
}

// Alert is a tracked incident.
type Alert struct {
	ID              string      `json:"id"`
	Type            AlertType   `json:"type"`
	Severity        Severity    `json:"severity"`
	ServiceName     string      `json:"service_name,omitempty"`
	Title           string      `json:"title"`
	Message         string      `json:"message"`
	Source          string      `json:"source"`
	Status          AlertStatus `json:"status"`
	AcknowledgedBy  string      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time  `json:"acknowledged_at,omitempty"`
	ResolvedBy      string      `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	ResolutionNotes string      `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Version         int64       `json:"version"`
}

// Clone returns a deep copy of the alert.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// AlertFilter narrows alert queries. Zero values are ignored.
type AlertFilter struct {
	Severity    Severity
	Status      AlertStatus
	ServiceName string
	Since       time.Time
	Limit       int
}
