package database

import (
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change. Migrations are embedded in
// the binary and applied in order; schema_migrations tracks what has
// already run so restarts are idempotent.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     "001",
		Description: "assessments directory",
		SQL: `
			CREATE TABLE IF NOT EXISTS assessments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id INTEGER NOT NULL,
				title TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_assessments_owner ON assessments(owner_id);
			CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status);
		`,
	},
	{
		Version:     "002",
		Description: "task update history",
		SQL: `
			CREATE TABLE IF NOT EXISTS task_updates (
				id TEXT PRIMARY KEY,
				assessment_id INTEGER NOT NULL REFERENCES assessments(id),
				task_id INTEGER NOT NULL,
				sequence INTEGER NOT NULL,
				payload TEXT NOT NULL,
				emitted_at DATETIME NOT NULL,
				UNIQUE(assessment_id, sequence)
			);
			CREATE INDEX IF NOT EXISTS idx_task_updates_assessment ON task_updates(assessment_id, sequence);
			CREATE INDEX IF NOT EXISTS idx_task_updates_task ON task_updates(assessment_id, task_id);
		`,
	},
}

// ApplyMigrations runs all pending migrations inside transactions.
func ApplyMigrations(db *sql.DB) error {
	if err := createMigrationTable(db); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w", m.Version, m.Description, err)
		}
	}

	return nil
}

func createMigrationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
