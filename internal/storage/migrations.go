package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS decisions (
					id TEXT PRIMARY KEY,
					transaction_id TEXT UNIQUE NOT NULL,
					merchant_name TEXT,
					route TEXT NOT NULL,
					category_id INTEGER,
					complexity REAL NOT NULL DEFAULT 0,
					confidence REAL NOT NULL DEFAULT 0,
					cost_cents INTEGER NOT NULL DEFAULT 0,
					latency_ms INTEGER NOT NULL DEFAULT 0,
					reasoning TEXT,
					correct INTEGER,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_decisions_merchant ON decisions(merchant_name)`,
				`CREATE INDEX idx_decisions_created ON decisions(created_at)`,

				`CREATE TABLE IF NOT EXISTS cached_results (
					fingerprint TEXT PRIMARY KEY,
					category_id INTEGER NOT NULL,
					confidence REAL NOT NULL,
					route TEXT NOT NULL,
					cached_at DATETIME NOT NULL,
					expires_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_cached_results_expires ON cached_results(expires_at)`,

				`CREATE TABLE IF NOT EXISTS cost_ledger (
					period_key TEXT PRIMARY KEY,
					spent_cents INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS correction_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					merchant_pattern TEXT NOT NULL,
					from_category_id INTEGER NOT NULL,
					to_category_id INTEGER NOT NULL,
					confidence REAL NOT NULL,
					use_count INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					expires_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_correction_rules_merchant ON correction_rules(merchant_pattern)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Training samples and classifier model versions",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS training_samples (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					features TEXT NOT NULL,
					category_id INTEGER NOT NULL,
					source TEXT NOT NULL DEFAULT 'import',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_training_samples_category ON training_samples(category_id)`,

				`CREATE TABLE IF NOT EXISTS classifier_models (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					blob BLOB NOT NULL,
					accuracy REAL NOT NULL DEFAULT 0,
					f1 REAL NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies any pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
