package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/vigil/internal/models"
)

type sqliteSnapshotRepo struct {
	db *sql.DB
}

func (r *sqliteSnapshotRepo) Insert(ctx context.Context, snap *models.HealthSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot insert: %w", err)
	}
	defer tx.Rollback()

	var cpu, mem, disk sql.NullFloat64
	if snap.Resources != nil {
		cpu = sql.NullFloat64{Float64: snap.Resources.CPUPercent, Valid: true}
		mem = sql.NullFloat64{Float64: snap.Resources.MemoryPercent, Valid: true}
		disk = sql.NullFloat64{Float64: snap.Resources.DiskPercent, Valid: true}
	}
	var conns sql.NullInt64
	if snap.ActiveConnections != nil {
		conns = sql.NullInt64{Int64: int64(*snap.ActiveConnections), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO health_snapshots (id, checked_at, overall_status,
			cpu_percent, memory_percent, disk_percent, active_connections)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, toNanos(snap.CheckedAt), snap.OverallStatus, cpu, mem, disk, conns)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for i, svc := range snap.Services {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshot_services (snapshot_id, position, service_name, status, response_time_ms)
			VALUES (?, ?, ?, ?, ?)
		`, snap.ID, i, svc.Name, svc.Status, svc.ResponseTimeMs)
		if err != nil {
			return fmt.Errorf("insert snapshot service %s: %w", svc.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (r *sqliteSnapshotRepo) List(ctx context.Context, filter models.SnapshotFilter) ([]*models.HealthSnapshot, error) {
	var (
		where []string
		args  []any
	)
	if filter.Service != "" {
		where = append(where, "EXISTS (SELECT 1 FROM snapshot_services ss WHERE ss.snapshot_id = s.id AND ss.service_name = ?)")
		args = append(args, filter.Service)
	}
	if !filter.Since.IsZero() {
		where = append(where, "s.checked_at >= ?")
		args = append(args, toNanos(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "s.checked_at <= ?")
		args = append(args, toNanos(filter.Until))
	}

	query := `
		SELECT s.id, s.checked_at, s.overall_status, s.cpu_percent, s.memory_percent,
			s.disk_percent, s.active_connections
		FROM health_snapshots s`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.checked_at DESC, s.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	snaps, err := r.querySnapshots(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := r.loadServices(ctx, snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (r *sqliteSnapshotRepo) Recent(ctx context.Context, limit int) ([]*models.HealthSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.List(ctx, models.SnapshotFilter{Limit: limit})
}

func (r *sqliteSnapshotRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM health_snapshots WHERE checked_at < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (r *sqliteSnapshotRepo) querySnapshots(ctx context.Context, query string, args ...any) ([]*models.HealthSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.HealthSnapshot
	for rows.Next() {
		snap := &models.HealthSnapshot{}
		var checkedAt int64
		var cpu, mem, disk sql.NullFloat64
		var conns sql.NullInt64

		if err := rows.Scan(&snap.ID, &checkedAt, &snap.OverallStatus, &cpu, &mem, &disk, &conns); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.CheckedAt = fromNanos(checkedAt)
		if cpu.Valid || mem.Valid || disk.Valid {
			snap.Resources = &models.ResourceUsage{
				CPUPercent:    cpu.Float64,
				MemoryPercent: mem.Float64,
				DiskPercent:   disk.Float64,
			}
		}
		if conns.Valid {
			n := int(conns.Int64)
			snap.ActiveConnections = &n
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// loadServices fills in per-service samples. It runs after the snapshot rows
// are closed since the pool holds a single connection.
func (r *sqliteSnapshotRepo) loadServices(ctx context.Context, snaps []*models.HealthSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	byID := make(map[string]*models.HealthSnapshot, len(snaps))
	placeholders := make([]string, len(snaps))
	args := make([]any, len(snaps))
	for i, s := range snaps {
		byID[s.ID] = s
		placeholders[i] = "?"
		args[i] = s.ID
	}

	query := fmt.Sprintf(`
		SELECT snapshot_id, service_name, status, response_time_ms
		FROM snapshot_services WHERE snapshot_id IN (%s)
		ORDER BY snapshot_id, position
	`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query snapshot services: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snapshotID string
		var svc models.ServiceSample
		if err := rows.Scan(&snapshotID, &svc.Name, &svc.Status, &svc.ResponseTimeMs); err != nil {
			return fmt.Errorf("scan snapshot service: %w", err)
		}
		if s, ok := byID[snapshotID]; ok {
			s.Services = append(s.Services, svc)
		}
	}
	return rows.Err()
}
