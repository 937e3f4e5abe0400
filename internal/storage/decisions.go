package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/model"
)

// SaveDecision persists a classification decision.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, decision *model.Decision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if decision == nil {
		return fmt.Errorf("decision must not be nil")
	}
	if !decision.Route.Valid() {
		return fmt.Errorf("invalid route %q", decision.Route)
	}

	var correct *int
	if decision.Correct != nil {
		v := 0
		if *decision.Correct {
			v = 1
		}
		correct = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions
			(id, transaction_id, merchant_name, route, category_id, complexity,
			 confidence, cost_cents, latency_ms, reasoning, correct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			route = excluded.route,
			category_id = excluded.category_id,
			complexity = excluded.complexity,
			confidence = excluded.confidence,
			cost_cents = excluded.cost_cents,
			latency_ms = excluded.latency_ms,
			reasoning = excluded.reasoning`,
		decision.ID,
		decision.TransactionID,
		decision.MerchantName,
		string(decision.Route),
		decision.CategoryID,
		decision.ComplexityScore,
		decision.Confidence,
		decision.CostCents,
		decision.Latency.Milliseconds(),
		decision.Reasoning,
		correct,
		decision.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// GetDecisionByTransactionID returns the decision recorded for a transaction.
func (s *SQLiteStorage) GetDecisionByTransactionID(ctx context.Context, transactionID string) (*model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, merchant_name, route, category_id, complexity,
		       confidence, cost_cents, latency_ms, reasoning, correct, created_at
		FROM decisions WHERE transaction_id = ?`, transactionID)

	decision, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision for transaction %s: %w", transactionID, common.ErrNotFound)
	}
	return decision, err
}

// MarkDecisionCorrectness sets a decision's correctness flag from feedback.
func (s *SQLiteStorage) MarkDecisionCorrectness(ctx context.Context, transactionID string, correct bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	v := 0
	if correct {
		v = 1
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET correct = ? WHERE transaction_id = ?`, v, transactionID)
	if err != nil {
		return fmt.Errorf("failed to mark decision correctness: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("decision for transaction %s: %w", transactionID, common.ErrNotFound)
	}
	return nil
}

// GetRecentDecisions returns decisions created since the given time, newest
// first, up to limit.
func (s *SQLiteStorage) GetRecentDecisions(ctx context.Context, since time.Time, limit int) ([]model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, merchant_name, route, category_id, complexity,
		       confidence, cost_cents, latency_ms, reasoning, correct, created_at
		FROM decisions WHERE created_at >= ?
		ORDER BY created_at DESC LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDecisions(rows)
}

// GetDecisionsByMerchant returns decisions for a normalized merchant since
// the given time, newest first.
func (s *SQLiteStorage) GetDecisionsByMerchant(ctx context.Context, normalizedMerchant string, since time.Time) ([]model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, merchant_name, route, category_id, complexity,
		       confidence, cost_cents, latency_ms, reasoning, correct, created_at
		FROM decisions WHERE merchant_name = ? AND created_at >= ?
		ORDER BY created_at DESC`, normalizedMerchant, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions by merchant: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDecisions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*model.Decision, error) {
	var d model.Decision
	var route string
	var latencyMs int64
	var correct sql.NullInt64
	var reasoning sql.NullString

	err := row.Scan(&d.ID, &d.TransactionID, &d.MerchantName, &route, &d.CategoryID,
		&d.ComplexityScore, &d.Confidence, &d.CostCents, &latencyMs, &reasoning,
		&correct, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	d.Route = model.Route(route)
	d.Latency = time.Duration(latencyMs) * time.Millisecond
	d.Reasoning = reasoning.String
	if correct.Valid {
		v := correct.Int64 == 1
		d.Correct = &v
	}
	return &d, nil
}

func scanDecisions(rows *sql.Rows) ([]model.Decision, error) {
	var decisions []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate decisions: %w", err)
	}
	return decisions, nil
}
