package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/vigil/internal/models"
)

type sqliteAuditRepo struct {
	db *sql.DB
}

func (r *sqliteAuditRepo) InsertBatch(ctx context.Context, records []*models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action_type, entity_type, entity_id,
			description, severity, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, nullString(rec.ActorID), rec.ActionType, rec.EntityType,
			nullString(rec.EntityID), rec.Description, rec.Severity, rec.Status,
			nullString(rec.ErrorMessage), toNanos(rec.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit records: %w", err)
	}
	return nil
}

func (r *sqliteAuditRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}
