package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Health snapshots (append-only)
			CREATE TABLE IF NOT EXISTS health_snapshots (
				id TEXT PRIMARY KEY,
				checked_at INTEGER NOT NULL,
				overall_status TEXT NOT NULL,
				cpu_percent REAL,
				memory_percent REAL,
				disk_percent REAL,
				active_connections INTEGER
			);

			CREATE TABLE IF NOT EXISTS snapshot_services (
				snapshot_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				service_name TEXT NOT NULL,
				status TEXT NOT NULL,
				response_time_ms INTEGER NOT NULL,
				PRIMARY KEY (snapshot_id, position),
				FOREIGN KEY (snapshot_id) REFERENCES health_snapshots(id) ON DELETE CASCADE
			);

			-- Alerts
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				severity TEXT NOT NULL,
				service_name TEXT,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				source TEXT NOT NULL,
				status TEXT NOT NULL,
				acknowledged_by TEXT,
				acknowledged_at INTEGER,
				resolved_by TEXT,
				resolved_at INTEGER,
				resolution_notes TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				version INTEGER NOT NULL DEFAULT 1
			);

			-- Notification queue; seq preserves insertion order for tie-breaks
			CREATE TABLE IF NOT EXISTS notification_queue (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT UNIQUE NOT NULL,
				notification_type TEXT NOT NULL,
				recipient_type TEXT NOT NULL,
				recipient_id TEXT,
				recipient_email TEXT,
				recipient_phone TEXT,
				subject TEXT NOT NULL,
				message TEXT NOT NULL,
				priority_rank INTEGER NOT NULL,
				status TEXT NOT NULL,
				scheduled_at INTEGER NOT NULL,
				sent_at INTEGER,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				error_message TEXT,
				created_by TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			-- Audit log (write-only from this service)
			CREATE TABLE IF NOT EXISTS audit_log (
				id TEXT PRIMARY KEY,
				actor_id TEXT,
				action_type TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT,
				description TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL,
				error_message TEXT,
				created_at INTEGER NOT NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_snapshots_checked_at ON health_snapshots(checked_at);
			CREATE INDEX IF NOT EXISTS idx_snapshot_services_name ON snapshot_services(service_name);
			CREATE INDEX IF NOT EXISTS idx_alerts_service_type ON alerts(service_name, type, status);
			CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
			CREATE INDEX IF NOT EXISTS idx_queue_due ON notification_queue(status, scheduled_at);
			CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_log(created_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, toNanos(time.Now()),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
