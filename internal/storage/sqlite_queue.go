package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/vigil/internal/models"
)

const queueColumns = `id, notification_type, recipient_type, recipient_id, recipient_email,
	recipient_phone, subject, message, priority_rank, status, scheduled_at, sent_at,
	retry_count, max_retries, error_message, created_by, created_at, updated_at`

type sqliteQueueRepo struct {
	db *sql.DB
}

func (r *sqliteQueueRepo) Create(ctx context.Context, item *models.QueueItem) error {
	query := `INSERT INTO notification_queue (` + queueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.NotificationType, item.RecipientType,
		nullString(item.RecipientID), nullString(item.RecipientEmail), nullString(item.RecipientPhone),
		item.Subject, item.Message, item.Priority.Rank(), item.Status,
		toNanos(item.ScheduledAt), nullNanos(item.SentAt),
		item.RetryCount, item.MaxRetries, nullString(item.ErrorMessage), nullString(item.CreatedBy),
		toNanos(item.CreatedAt), toNanos(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *sqliteQueueRepo) GetByID(ctx context.Context, id string) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM notification_queue WHERE id = ?", id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

func (r *sqliteQueueRepo) Update(ctx context.Context, item *models.QueueItem) error {
	query := `
		UPDATE notification_queue SET status = ?, scheduled_at = ?, sent_at = ?,
			retry_count = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		item.Status, toNanos(item.ScheduledAt), nullNanos(item.SentAt),
		item.RetryCount, nullString(item.ErrorMessage), toNanos(item.UpdatedAt),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("queue item %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteQueueRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error) {
	query := "SELECT " + queueColumns + ` FROM notification_queue
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY priority_rank DESC, scheduled_at ASC, seq ASC
		LIMIT ?`
	return r.query(ctx, query, models.QueuePending, toNanos(now), limit)
}

func (r *sqliteQueueRepo) List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if filter.Status != "" {
		query := "SELECT " + queueColumns + ` FROM notification_queue
			WHERE status = ? ORDER BY seq DESC LIMIT ?`
		return r.query(ctx, query, filter.Status, limit)
	}
	query := "SELECT " + queueColumns + " FROM notification_queue ORDER BY seq DESC LIMIT ?"
	return r.query(ctx, query, limit)
}

func (r *sqliteQueueRepo) Counts(ctx context.Context) (models.QueueCounts, error) {
	var counts models.QueueCounts
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM notification_queue GROUP BY status")
	if err != nil {
		return counts, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.QueueStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan queue count: %w", err)
		}
		switch status {
		case models.QueuePending:
			counts.Pending = n
		case models.QueueSent:
			counts.Sent = n
		case models.QueueFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func (r *sqliteQueueRepo) query(ctx context.Context, query string, args ...any) ([]*models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue items: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQueueItem(row scanner) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	var recipientID, email, phone, errMsg, createdBy sql.NullString
	var sentAt sql.NullInt64
	var priorityRank int
	var scheduledAt, createdAt, updatedAt int64

	err := row.Scan(
		&item.ID, &item.NotificationType, &item.RecipientType, &recipientID, &email, &phone,
		&item.Subject, &item.Message, &priorityRank, &item.Status, &scheduledAt, &sentAt,
		&item.RetryCount, &item.MaxRetries, &errMsg, &createdBy, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}

	item.RecipientID = recipientID.String
	item.RecipientEmail = email.String
	item.RecipientPhone = phone.String
	item.Priority = models.PriorityFromRank(priorityRank)
	item.ScheduledAt = fromNanos(scheduledAt)
	item.SentAt = timePtr(sentAt)
	item.ErrorMessage = errMsg.String
	item.CreatedBy = createdBy.String
	item.CreatedAt = fromNanos(createdAt)
	item.UpdatedAt = fromNanos(updatedAt)
	return item, nil
}
