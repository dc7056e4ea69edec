// Package models defines the domain entities shared across vigil packages.
package models

import "time"

// ServiceStatus is the probe outcome for a single dependency.
type ServiceStatus string

const (
	StatusHealthy   ServiceStatus = "HEALTHY"
	StatusUnhealthy ServiceStatus = "UNHEALTHY"
)

// OverallStatus summarizes all probe outcomes of one run.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "HEALTHY"
	OverallDegraded OverallStatus = "DEGRADED"
	OverallCritical OverallStatus = "CRITICAL"
)

// UnknownResponseTime marks a probe that failed before producing a timing.
const UnknownResponseTime int64 = -1

// ServiceHealth is the result of probing one dependency. It is never
// persisted directly; it is folded into a HealthSnapshot.
type ServiceHealth struct {
	Name           string        `json:"name"`
	Status         ServiceStatus `json:"status"`
	ResponseTimeMs int64         `json:"response_time_ms"`
	Message        string        `json:"message"`
	LastChecked    time.Time     `json:"last_checked"`
}

// Healthy reports whether the probe succeeded.
func (s ServiceHealth) Healthy() bool {
	return s.Status == StatusHealthy
}

// ServiceSample is the persisted per-service part of a snapshot.
type ServiceSample struct {
	Name           string        `json:"name"`
	Status         ServiceStatus `json:"status"`
	ResponseTimeMs int64         `json:"response_time_ms"`
}

// ResourceUsage holds host utilization percentages at snapshot time.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// HealthSnapshot is an immutable record of one aggregator run.
type HealthSnapshot struct {
	ID                string          `json:"id"`
	CheckedAt         time.Time       `json:"checked_at"`
	OverallStatus     OverallStatus   `json:"overall_status"`
	Services          []ServiceSample `json:"services"`
	Resources         *ResourceUsage  `json:"resources,omitempty"`
	ActiveConnections *int            `json:"active_connections,omitempty"`
}

// Service returns the sample for the named service, if present.
func (s *HealthSnapshot) Service(name string) (ServiceSample, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceSample{}, false
}

// SnapshotFilter narrows snapshot queries. Zero values are ignored.
type SnapshotFilter struct {
	Service string
	Since   time.Time
	Until   time.Time
	Limit   int
}
