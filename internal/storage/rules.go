package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cardamom-hq/cardamom/internal/model"
)

// SaveCorrectionRule persists a learned correction rule. New rules get
// their generated ID written back.
func (s *SQLiteStorage) SaveCorrectionRule(ctx context.Context, rule *model.CorrectionRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("rule must not be nil")
	}
	if rule.Confidence <= 0 || rule.Confidence > 1 {
		return fmt.Errorf("rule confidence %v out of range (0,1]", rule.Confidence)
	}

	if rule.ID == 0 {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO correction_rules
				(merchant_pattern, from_category_id, to_category_id, confidence,
				 use_count, is_active, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.MerchantPattern, rule.FromCategoryID, rule.ToCategoryID,
			rule.Confidence, rule.UseCount, rule.IsActive, rule.CreatedAt, rule.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert correction rule: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get rule id: %w", err)
		}
		rule.ID = id
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE correction_rules SET
			merchant_pattern = ?, from_category_id = ?, to_category_id = ?,
			confidence = ?, use_count = ?, is_active = ?, expires_at = ?
		WHERE id = ?`,
		rule.MerchantPattern, rule.FromCategoryID, rule.ToCategoryID,
		rule.Confidence, rule.UseCount, rule.IsActive, rule.ExpiresAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update correction rule: %w", err)
	}
	return nil
}

// GetActiveCorrectionRules returns all active, unexpired rules.
func (s *SQLiteStorage) GetActiveCorrectionRules(ctx context.Context, now time.Time) ([]model.CorrectionRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merchant_pattern, from_category_id, to_category_id, confidence,
		       use_count, is_active, created_at, expires_at
		FROM correction_rules
		WHERE is_active = 1 AND expires_at > ?
		ORDER BY confidence DESC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.CorrectionRule
	for rows.Next() {
		var r model.CorrectionRule
		if err := rows.Scan(&r.ID, &r.MerchantPattern, &r.FromCategoryID,
			&r.ToCategoryID, &r.Confidence, &r.UseCount, &r.IsActive,
			&r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate correction rules: %w", err)
	}
	return rules, nil
}

// IncrementRuleUseCount bumps a rule's use counter.
func (s *SQLiteStorage) IncrementRuleUseCount(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE correction_rules SET use_count = use_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment rule use count: %w", err)
	}
	return nil
}
