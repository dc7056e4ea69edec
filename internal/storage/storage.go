// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/vigil/internal/models"
)

var (
	// ErrNotFound is returned when an update or delete targets a missing row.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an optimistic update lost a race.
	ErrVersionConflict = errors.New("version conflict")
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Snapshots() SnapshotRepository
	Alerts() AlertRepository
	Queue() QueueRepository
	Audit() AuditRepository
}

// SnapshotRepository is the append-only metric store for health snapshots.
type SnapshotRepository interface {
	Insert(ctx context.Context, snapshot *models.HealthSnapshot) error
	// List returns snapshots newest first.
	List(ctx context.Context, filter models.SnapshotFilter) ([]*models.HealthSnapshot, error)
	Recent(ctx context.Context, limit int) ([]*models.HealthSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertRepository defines persistence and queries for alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	// GetByID returns nil, nil when the alert does not exist.
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// Update writes the alert if its stored version still equals alert.Version,
	// then increments alert.Version. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, alert *models.Alert) error
	// FindActive returns the newest OPEN or ACKNOWLEDGED alert for the pair.
	FindActive(ctx context.Context, serviceName string, alertType models.AlertType) (*models.Alert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
	Recent(ctx context.Context, limit int) ([]*models.Alert, error)
	CountByStatus(ctx context.Context) (map[models.AlertStatus]int64, error)
}

// QueueRepository defines persistence for the notification queue.
type QueueRepository interface {
	Create(ctx context.Context, item *models.QueueItem) error
	// GetByID returns nil, nil when the item does not exist.
	GetByID(ctx context.Context, id string) (*models.QueueItem, error)
	Update(ctx context.Context, item *models.QueueItem) error
	// ListDue returns PENDING items scheduled at or before now, highest
	// priority first, then oldest scheduled, then insertion order.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error)
	List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error)
	Counts(ctx context.Context) (models.QueueCounts, error)
}

// AuditRepository is the write side of the audit log.
type AuditRepository interface {
	InsertBatch(ctx context.Context, records []*models.AuditRecord) error
	Count(ctx context.Context) (int64, error)
}
