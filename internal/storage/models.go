package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/service"
)

// SaveClassifierModel persists a serialized model version. When the record
// is marked active it atomically replaces the previous active version.
func (s *SQLiteStorage) SaveClassifierModel(ctx context.Context, record *service.ClassifierModelRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if record == nil || len(record.Blob) == 0 {
		return fmt.Errorf("model record must have a blob")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if record.IsActive {
		if _, err := tx.ExecContext(ctx, `UPDATE classifier_models SET is_active = 0`); err != nil {
			return fmt.Errorf("failed to deactivate previous models: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO classifier_models (blob, accuracy, f1, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.Blob, record.Accuracy, record.F1, record.IsActive, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert classifier model: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get model id: %w", err)
	}
	record.ID = id

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit classifier model: %w", err)
	}
	return nil
}

// GetActiveClassifierModel returns the single active model version.
func (s *SQLiteStorage) GetActiveClassifierModel(ctx context.Context) (*service.ClassifierModelRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var r service.ClassifierModelRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, blob, accuracy, f1, is_active, created_at
		FROM classifier_models WHERE is_active = 1
		ORDER BY id DESC LIMIT 1`).
		Scan(&r.ID, &r.Blob, &r.Accuracy, &r.F1, &r.IsActive, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active classifier model: %w", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active classifier model: %w", err)
	}
	return &r, nil
}

// ActivateClassifierModel makes the given model version the single active
// one.
func (s *SQLiteStorage) ActivateClassifierModel(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE classifier_models SET is_active = 0`); err != nil {
		return fmt.Errorf("failed to deactivate models: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE classifier_models SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to activate model: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check activation: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("classifier model %d: %w", id, common.ErrNotFound)
	}

	return tx.Commit()
}

// SaveTrainingSample persists one labeled feature vector.
func (s *SQLiteStorage) SaveTrainingSample(ctx context.Context, sample *service.TrainingSample) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if sample == nil || len(sample.Features) == 0 {
		return fmt.Errorf("training sample must have features")
	}

	features, err := json.Marshal(sample.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO training_samples (features, category_id, source, created_at)
		VALUES (?, ?, ?, ?)`,
		string(features), sample.CategoryID, sample.Source, sample.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save training sample: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get sample id: %w", err)
	}
	sample.ID = id
	return nil
}

// GetTrainingSamples returns labeled samples in insertion order, up to limit.
func (s *SQLiteStorage) GetTrainingSamples(ctx context.Context, limit int) ([]service.TrainingSample, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, features, category_id, source, created_at
		FROM training_samples ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query training samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []service.TrainingSample
	for rows.Next() {
		var sample service.TrainingSample
		var features string
		if err := rows.Scan(&sample.ID, &features, &sample.CategoryID,
			&sample.Source, &sample.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan training sample: %w", err)
		}

		sample.Features = make(feature.Map)
		if err := json.Unmarshal([]byte(features), &sample.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate training samples: %w", err)
	}
	return samples, nil
}
