package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/service"
)

// Helper to create a migrated test storage.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDecision(transactionID string) *model.Decision {
	return &model.Decision{
		ID:              "dec-" + transactionID,
		TransactionID:   transactionID,
		MerchantName:    "whole foods market",
		Route:           model.RouteStatistical,
		CategoryID:      1,
		ComplexityScore: 0.3,
		Confidence:      0.82,
		CostCents:       0,
		Latency:         42 * time.Millisecond,
		Reasoning:       "statistical classifier",
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := createTestStorage(t)

	// A second run is a no-op, not an error.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
}

func TestSaveAndGetDecision(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	want := testDecision("txn-1")
	if err := store.SaveDecision(ctx, want); err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}

	got, err := store.GetDecisionByTransactionID(ctx, "txn-1")
	if err != nil {
		t.Fatalf("GetDecisionByTransactionID failed: %v", err)
	}
	if got.Route != want.Route || got.CategoryID != want.CategoryID {
		t.Errorf("Got route=%s category=%d, want route=%s category=%d",
			got.Route, got.CategoryID, want.Route, want.CategoryID)
	}
	if got.Latency != want.Latency {
		t.Errorf("Got latency %v, want %v", got.Latency, want.Latency)
	}
	if got.Correct != nil {
		t.Errorf("Fresh decision should have nil correctness, got %v", *got.Correct)
	}
}

func TestSaveDecisionUpsertPreservesCorrectness(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	d := testDecision("txn-upsert")
	if err := store.SaveDecision(ctx, d); err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}
	if err := store.MarkDecisionCorrectness(ctx, "txn-upsert", true); err != nil {
		t.Fatalf("MarkDecisionCorrectness failed: %v", err)
	}

	// Re-saving the same transaction updates the result but keeps the
	// feedback that already arrived.
	d.CategoryID = 2
	if err := store.SaveDecision(ctx, d); err != nil {
		t.Fatalf("Second SaveDecision failed: %v", err)
	}

	got, err := store.GetDecisionByTransactionID(ctx, "txn-upsert")
	if err != nil {
		t.Fatalf("GetDecisionByTransactionID failed: %v", err)
	}
	if got.CategoryID != 2 {
		t.Errorf("Got category %d, want 2", got.CategoryID)
	}
	if got.Correct == nil || !*got.Correct {
		t.Error("Correctness flag was lost on upsert")
	}
}

func TestMarkDecisionCorrectnessUnknownTransaction(t *testing.T) {
	store := createTestStorage(t)

	err := store.MarkDecisionCorrectness(context.Background(), "missing", true)
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound", err)
	}
}

func TestGetRecentDecisions(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		d := testDecision(fmt.Sprintf("txn-%d", i))
		d.ID = fmt.Sprintf("dec-%d", i)
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}
	}

	decisions, err := store.GetRecentDecisions(ctx, base.Add(90*time.Second), 10)
	if err != nil {
		t.Fatalf("GetRecentDecisions failed: %v", err)
	}
	if len(decisions) != 3 {
		t.Fatalf("Got %d decisions, want 3", len(decisions))
	}
	// Newest first.
	if decisions[0].TransactionID != "txn-4" {
		t.Errorf("Got first decision %s, want txn-4", decisions[0].TransactionID)
	}
}

func TestGetDecisionsByMerchant(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	a := testDecision("txn-a")
	b := testDecision("txn-b")
	b.ID = "dec-b2"
	b.MerchantName = "blue bottle"
	if err := store.SaveDecision(ctx, a); err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}
	if err := store.SaveDecision(ctx, b); err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}

	decisions, err := store.GetDecisionsByMerchant(ctx, "whole foods market", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetDecisionsByMerchant failed: %v", err)
	}
	if len(decisions) != 1 || decisions[0].TransactionID != "txn-a" {
		t.Errorf("Got %d decisions, want exactly txn-a", len(decisions))
	}
}

func TestCachedResultRoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	want := &model.CachedResult{
		Fingerprint: "fp-1",
		CategoryID:  3,
		Confidence:  0.91,
		Route:       model.RouteRemote,
		CachedAt:    now,
		ExpiresAt:   now.Add(7 * 24 * time.Hour),
	}
	if err := store.SaveCachedResult(ctx, want); err != nil {
		t.Fatalf("SaveCachedResult failed: %v", err)
	}

	got, err := store.GetCachedResult(ctx, "fp-1")
	if err != nil {
		t.Fatalf("GetCachedResult failed: %v", err)
	}
	if got.CategoryID != 3 || got.Route != model.RouteRemote {
		t.Errorf("Got category=%d route=%s, want 3/remote", got.CategoryID, got.Route)
	}

	// Overwrite wins.
	want.CategoryID = 5
	if err := store.SaveCachedResult(ctx, want); err != nil {
		t.Fatalf("Second SaveCachedResult failed: %v", err)
	}
	got, err = store.GetCachedResult(ctx, "fp-1")
	if err != nil {
		t.Fatalf("GetCachedResult failed: %v", err)
	}
	if got.CategoryID != 5 {
		t.Errorf("Got category %d, want 5", got.CategoryID)
	}

	if _, err := store.GetCachedResult(ctx, "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound", err)
	}
}

func TestAddSpendAccumulatesAtomically(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := store.AddSpend(ctx, "2026-05-01", 10); err != nil {
					t.Errorf("AddSpend failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	total, err := store.GetSpend(ctx, "2026-05-01")
	if err != nil {
		t.Fatalf("GetSpend failed: %v", err)
	}
	if want := int64(workers * perWorker * 10); total != want {
		t.Errorf("Got total %d, want %d", total, want)
	}
}

func TestGetSpendUnknownPeriodIsZero(t *testing.T) {
	store := createTestStorage(t)

	total, err := store.GetSpend(context.Background(), "1999-01")
	if err != nil {
		t.Fatalf("GetSpend failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Got %d, want 0", total)
	}
}

func TestCorrectionRuleLifecycle(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	rule := &model.CorrectionRule{
		MerchantPattern: "blue bottle",
		FromCategoryID:  4,
		ToCategoryID:    2,
		Confidence:      0.8,
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
		ExpiresAt:       time.Now().UTC().Add(30 * 24 * time.Hour),
	}
	if err := store.SaveCorrectionRule(ctx, rule); err != nil {
		t.Fatalf("SaveCorrectionRule failed: %v", err)
	}
	if rule.ID == 0 {
		t.Fatal("Rule ID was not assigned")
	}

	rules, err := store.GetActiveCorrectionRules(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetActiveCorrectionRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0].MerchantPattern != "blue bottle" {
		t.Fatalf("Got %d rules, want the saved one", len(rules))
	}

	if err := store.IncrementRuleUseCount(ctx, rule.ID); err != nil {
		t.Fatalf("IncrementRuleUseCount failed: %v", err)
	}
	rules, err = store.GetActiveCorrectionRules(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetActiveCorrectionRules failed: %v", err)
	}
	if rules[0].UseCount != 1 {
		t.Errorf("Got use count %d, want 1", rules[0].UseCount)
	}

	// Expired rules drop out of the active set.
	rule.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	if err := store.SaveCorrectionRule(ctx, rule); err != nil {
		t.Fatalf("Rule update failed: %v", err)
	}
	rules, err = store.GetActiveCorrectionRules(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetActiveCorrectionRules failed: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("Got %d rules, want 0 after expiry", len(rules))
	}
}

func TestSaveCorrectionRuleRejectsBadConfidence(t *testing.T) {
	store := createTestStorage(t)

	for _, confidence := range []float64{0, -0.5, 1.5} {
		rule := &model.CorrectionRule{
			MerchantPattern: "m",
			Confidence:      confidence,
			ExpiresAt:       time.Now().Add(time.Hour),
		}
		if err := store.SaveCorrectionRule(context.Background(), rule); err == nil {
			t.Errorf("Confidence %v was accepted, want error", confidence)
		}
	}
}

func TestTrainingSampleRoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	sample := &service.TrainingSample{
		Features:   feature.Map{"word_coffee": 2, "amount_bucket_small": 1},
		CategoryID: 2,
		Source:     "correction",
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.SaveTrainingSample(ctx, sample); err != nil {
		t.Fatalf("SaveTrainingSample failed: %v", err)
	}

	samples, err := store.GetTrainingSamples(ctx, 10)
	if err != nil {
		t.Fatalf("GetTrainingSamples failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Got %d samples, want 1", len(samples))
	}
	if samples[0].Features["word_coffee"] != 2 {
		t.Errorf("Feature map did not round-trip: %v", samples[0].Features)
	}
	if samples[0].Source != "correction" {
		t.Errorf("Got source %q, want correction", samples[0].Source)
	}
}

func TestClassifierModelVersioning(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	first := &service.ClassifierModelRecord{
		Blob:      []byte(`{"v":1}`),
		Accuracy:  0.8,
		F1:        0.75,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveClassifierModel(ctx, first); err != nil {
		t.Fatalf("SaveClassifierModel failed: %v", err)
	}

	// A new active version displaces the old one.
	second := &service.ClassifierModelRecord{
		Blob:      []byte(`{"v":2}`),
		Accuracy:  0.85,
		F1:        0.8,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveClassifierModel(ctx, second); err != nil {
		t.Fatalf("SaveClassifierModel failed: %v", err)
	}

	active, err := store.GetActiveClassifierModel(ctx)
	if err != nil {
		t.Fatalf("GetActiveClassifierModel failed: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("Got active model %d, want %d", active.ID, second.ID)
	}

	// Roll back to the first version.
	if err := store.ActivateClassifierModel(ctx, first.ID); err != nil {
		t.Fatalf("ActivateClassifierModel failed: %v", err)
	}
	active, err = store.GetActiveClassifierModel(ctx)
	if err != nil {
		t.Fatalf("GetActiveClassifierModel failed: %v", err)
	}
	if active.ID != first.ID {
		t.Errorf("Got active model %d, want %d", active.ID, first.ID)
	}

	if err := store.ActivateClassifierModel(ctx, 9999); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound for unknown model", err)
	}
}

func TestGetActiveClassifierModelEmpty(t *testing.T) {
	store := createTestStorage(t)

	_, err := store.GetActiveClassifierModel(context.Background())
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound", err)
	}
}

func TestConflictErrorMapsBusyAndLocked(t *testing.T) {
	busy := conflictError(sqlite3.Error{Code: sqlite3.ErrBusy})
	if !errors.Is(busy, common.ErrConcurrencyConflict) {
		t.Errorf("SQLITE_BUSY not mapped to conflict: %v", busy)
	}

	locked := conflictError(sqlite3.Error{Code: sqlite3.ErrLocked})
	if !errors.Is(locked, common.ErrConcurrencyConflict) {
		t.Errorf("SQLITE_LOCKED not mapped to conflict: %v", locked)
	}

	plain := errors.New("disk full")
	if got := conflictError(plain); got != plain {
		t.Errorf("Unrelated error rewritten: %v", got)
	}
}
