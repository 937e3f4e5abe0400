package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/model"
)

// GetCachedResult returns the durable cache entry for a fingerprint.
func (s *SQLiteStorage) GetCachedResult(ctx context.Context, fingerprint string) (*model.CachedResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var r model.CachedResult
	var route string
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, category_id, confidence, route, cached_at, expires_at
		FROM cached_results WHERE fingerprint = ?`, fingerprint).
		Scan(&r.Fingerprint, &r.CategoryID, &r.Confidence, &route, &r.CachedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cached result %s: %w", fingerprint, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached result: %w", err)
	}

	r.Route = model.Route(route)
	return &r, nil
}

// SaveCachedResult upserts a durable cache entry. Last write wins.
func (s *SQLiteStorage) SaveCachedResult(ctx context.Context, result *model.CachedResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("cached result must not be nil")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_results (fingerprint, category_id, confidence, route, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			category_id = excluded.category_id,
			confidence = excluded.confidence,
			route = excluded.route,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		result.Fingerprint, result.CategoryID, result.Confidence,
		string(result.Route), result.CachedAt, result.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save cached result: %w", err)
	}
	return nil
}
