package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/vigil/internal/models"
)

const alertColumns = `id, type, severity, service_name, title, message, source, status,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at, resolution_notes,
	created_at, updated_at, version`

type sqliteAlertRepo struct {
	db *sql.DB
}

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	if alert.Version == 0 {
		alert.Version = 1
	}
	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.Type, alert.Severity, nullString(alert.ServiceName),
		alert.Title, alert.Message, alert.Source, alert.Status,
		nullString(alert.AcknowledgedBy), nullNanos(alert.AcknowledgedAt),
		nullString(alert.ResolvedBy), nullNanos(alert.ResolvedAt),
		nullString(alert.ResolutionNotes),
		toNanos(alert.CreatedAt), toNanos(alert.UpdatedAt), alert.Version,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

func (r *sqliteAlertRepo) Update(ctx context.Context, alert *models.Alert) error {
	query := `
		UPDATE alerts SET severity = ?, title = ?, message = ?, status = ?,
			acknowledged_by = ?, acknowledged_at = ?, resolved_by = ?, resolved_at = ?,
			resolution_notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.Severity, alert.Title, alert.Message, alert.Status,
		nullString(alert.AcknowledgedBy), nullNanos(alert.AcknowledgedAt),
		nullString(alert.ResolvedBy), nullNanos(alert.ResolvedAt),
		nullString(alert.ResolutionNotes), toNanos(alert.UpdatedAt),
		alert.ID, alert.Version,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, "SELECT 1 FROM alerts WHERE id = ?", alert.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("alert %s: %w", alert.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check alert: %w", err)
		}
		return fmt.Errorf("alert %s at version %d: %w", alert.ID, alert.Version, ErrVersionConflict)
	}
	alert.Version++
	return nil
}

func (r *sqliteAlertRepo) FindActive(ctx context.Context, serviceName string, alertType models.AlertType) (*models.Alert, error) {
	query := "SELECT " + alertColumns + ` FROM alerts
		WHERE service_name = ? AND type = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, serviceName, alertType, models.AlertOpen, models.AlertAcknowledged)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

func (r *sqliteAlertRepo) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ServiceName != "" {
		where = append(where, "service_name = ?")
		args = append(args, filter.ServiceName)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toNanos(filter.Since))
	}

	query := "SELECT " + alertColumns + " FROM alerts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *sqliteAlertRepo) Recent(ctx context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.List(ctx, models.AlertFilter{Limit: limit})
}

func (r *sqliteAlertRepo) CountByStatus(ctx context.Context) (map[models.AlertStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM alerts GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	defer rows.Close()

	counts := map[models.AlertStatus]int64{
		models.AlertOpen:         0,
		models.AlertAcknowledged: 0,
		models.AlertResolved:     0,
	}
	for rows.Next() {
		var status models.AlertStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan alert count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanAlert(row scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var serviceName, ackBy, resolvedBy, notes sql.NullString
	var ackAt, resolvedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&alert.ID, &alert.Type, &alert.Severity, &serviceName, &alert.Title, &alert.Message,
		&alert.Source, &alert.Status, &ackBy, &ackAt, &resolvedBy, &resolvedAt, &notes,
		&createdAt, &updatedAt, &alert.Version,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.ServiceName = serviceName.String
	alert.AcknowledgedBy = ackBy.String
	alert.AcknowledgedAt = timePtr(ackAt)
	alert.ResolvedBy = resolvedBy.String
	alert.ResolvedAt = timePtr(resolvedAt)
	alert.ResolutionNotes = notes.String
	alert.CreatedAt = fromNanos(createdAt)
	alert.UpdatedAt = fromNanos(updatedAt)
	return alert, nil
}
