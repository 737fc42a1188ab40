package exemplar

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a store schema migration
type Migration struct {
	Version     int
	Description string
	Up          string
}

func migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial exemplar store schema",
			Up: `
				CREATE TABLE IF NOT EXISTS exemplars (
					id VARCHAR PRIMARY KEY,
					kind VARCHAR NOT NULL,
					natural_language TEXT NOT NULL,
					sql_text TEXT,
					tags VARCHAR,
					embedding VARCHAR,
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_exemplars_kind ON exemplars(kind);
			`,
		},
	}
}

// migrate applies pending migrations, tracking versions in
// schema_migrations the way the rest of this system's DuckDB files do.
func migrate(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	for _, migration := range migrations() {
		applied, err := isApplied(ctx, db, migration.Version)
		if err != nil {
			return err
		}

		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			migration.Version, migration.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func isApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int

	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return count > 0, nil
}
