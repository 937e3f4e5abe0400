// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/model"
)

// TrainingSample is one labeled feature vector for the statistical
// classifier, kept so models can be retrained and updated incrementally
// without the original transaction data.
type TrainingSample struct {
	CreatedAt  time.Time
	Features   feature.Map
	Source     string // "import", "correction"
	CategoryID int
	ID         int64
}

// ClassifierModelRecord is a serialized classifier version with the
// held-out metrics recorded at training time. Exactly one record per
// classifier type is active at any moment.
type ClassifierModelRecord struct {
	CreatedAt time.Time
	Blob      []byte
	Accuracy  float64
	F1        float64
	ID        int64
	IsActive  bool
}

// Storage defines the contract for the engine's persistence layer. The
// engine only requires read/write/atomic-increment semantics; any store
// providing them will do.
type Storage interface {
	// Decision operations
	SaveDecision(ctx context.Context, decision *model.Decision) error
	GetDecisionByTransactionID(ctx context.Context, transactionID string) (*model.Decision, error)
	MarkDecisionCorrectness(ctx context.Context, transactionID string, correct bool) error
	GetRecentDecisions(ctx context.Context, since time.Time, limit int) ([]model.Decision, error)
	GetDecisionsByMerchant(ctx context.Context, normalizedMerchant string, since time.Time) ([]model.Decision, error)

	// Cache operations
	GetCachedResult(ctx context.Context, fingerprint string) (*model.CachedResult, error)
	SaveCachedResult(ctx context.Context, result *model.CachedResult) error

	// Cost ledger operations. AddSpend atomically increments the named
	// period's accumulator and returns the new total.
	AddSpend(ctx context.Context, periodKey string, amountCents int64) (int64, error)
	GetSpend(ctx context.Context, periodKey string) (int64, error)

	// Correction rule operations
	SaveCorrectionRule(ctx context.Context, rule *model.CorrectionRule) error
	GetActiveCorrectionRules(ctx context.Context, now time.Time) ([]model.CorrectionRule, error)
	IncrementRuleUseCount(ctx context.Context, id int64) error

	// Training sample operations
	SaveTrainingSample(ctx context.Context, sample *TrainingSample) error
	GetTrainingSamples(ctx context.Context, limit int) ([]TrainingSample, error)

	// Classifier model operations
	SaveClassifierModel(ctx context.Context, record *ClassifierModelRecord) error
	GetActiveClassifierModel(ctx context.Context) (*ClassifierModelRecord, error)
	ActivateClassifierModel(ctx context.Context, id int64) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}
