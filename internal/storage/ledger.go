package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/cardamom-hq/cardamom/internal/common"
)

// conflictError maps SQLite busy/locked failures onto the conflict
// sentinel so the budget guard's retry can recognize them.
func conflictError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", common.ErrConcurrencyConflict, err)
	}
	return err
}

// AddSpend atomically increments a period's spend accumulator and returns
// the new total. The upsert-and-read runs in one transaction so concurrent
// increments serialize at the database.
func (s *SQLiteStorage) AddSpend(ctx context.Context, periodKey string, amountCents int64) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if amountCents < 0 {
		return 0, fmt.Errorf("spend amount must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", conflictError(err))
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cost_ledger (period_key, spent_cents)
		VALUES (?, ?)
		ON CONFLICT(period_key) DO UPDATE SET
			spent_cents = spent_cents + excluded.spent_cents,
			updated_at = CURRENT_TIMESTAMP`,
		periodKey, amountCents)
	if err != nil {
		return 0, fmt.Errorf("failed to add spend: %w", conflictError(err))
	}

	var total int64
	err = tx.QueryRowContext(ctx,
		`SELECT spent_cents FROM cost_ledger WHERE period_key = ?`, periodKey).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read spend total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit spend: %w", conflictError(err))
	}
	return total, nil
}

// GetSpend returns a period's spend accumulator, zero when the period has
// no entries yet.
func (s *SQLiteStorage) GetSpend(ctx context.Context, periodKey string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT spent_cents FROM cost_ledger WHERE period_key = ?`, periodKey).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get spend: %w", err)
	}
	return total, nil
}
