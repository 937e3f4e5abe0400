package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardamom-hq/cardamom/internal/bayes"
	"github.com/cardamom-hq/cardamom/internal/budget"
	"github.com/cardamom-hq/cardamom/internal/cache"
	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/learning"
	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/remote"
	"github.com/cardamom-hq/cardamom/internal/similarity"
	"github.com/cardamom-hq/cardamom/internal/testutil"
)

// fakeRemote stands in for the paid layer.
type fakeRemote struct {
	result   remote.Result
	err      error
	estimate int64
	calls    int
	closed   bool
}

func (f *fakeRemote) Classify(_ context.Context, _ model.Transaction, _ []model.Category, _ float64) (remote.Result, error) {
	f.calls++
	if f.err != nil {
		return remote.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeRemote) EstimateCostCents(_ model.Transaction, _ []model.Category, _ float64) int64 {
	return f.estimate
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

// confidentClassifier predicts category 1 with probability well above the
// statistical threshold for transactions whose features it has never seen.
func confidentClassifier() *bayes.Classifier {
	samples := make([]bayes.Sample, 0, 10)
	for i := 0; i < 9; i++ {
		samples = append(samples, bayes.Sample{Features: feature.Map{"word_grocery": 1}, CategoryID: 1})
	}
	samples = append(samples, bayes.Sample{Features: feature.Map{"word_pizza": 1}, CategoryID: 2})

	c := bayes.NewClassifier(nil)
	c.Publish(bayes.Train(samples, 1.0))
	return c
}

// uncertainClassifier predicts category 1 at roughly two thirds, below the
// statistical threshold, so its prediction survives only as the fallback.
func uncertainClassifier() *bayes.Classifier {
	samples := []bayes.Sample{
		{Features: feature.Map{"word_grocery": 1}, CategoryID: 1},
		{Features: feature.Map{"word_grocery": 1}, CategoryID: 1},
		{Features: feature.Map{"word_pizza": 1}, CategoryID: 2},
	}
	c := bayes.NewClassifier(nil)
	c.Publish(bayes.Train(samples, 1.0))
	return c
}

func coffeeTxn(id string, amountCents int64) model.Transaction {
	return model.Transaction{
		ID:           id,
		Date:         time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		MerchantName: "Blue Bottle Coffee #12",
		Description:  "morning espresso",
		AmountCents:  amountCents,
		Currency:     "USD",
	}
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Storage == nil {
		opts.Storage = testutil.SetupTestDB(t)
	}
	if opts.Classifier == nil {
		opts.Classifier = confidentClassifier()
	}
	if opts.Categories == nil {
		opts.Categories = testutil.Categories()
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func TestNewRequiresCollaborators(t *testing.T) {
	store := testutil.SetupTestDB(t)
	classifier := confidentClassifier()
	categories := testutil.Categories()

	tests := []struct {
		name string
		opts Options
	}{
		{"missing storage", Options{Classifier: classifier, Categories: categories}},
		{"missing classifier", Options{Storage: store, Categories: categories}},
		{"missing categories", Options{Storage: store, Classifier: classifier}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestNewDefaultsOnlyUnsetConfigFields(t *testing.T) {
	e := newTestEngine(t, Options{
		Config: Config{Thresholds: Thresholds{Statistical: 0.9}},
	})

	d := DefaultConfig()
	assert.InDelta(t, 0.9, e.config.Thresholds.Statistical, 1e-9)
	assert.InDelta(t, d.Thresholds.Similarity, e.config.Thresholds.Similarity, 1e-9)
	assert.Equal(t, d.RemoteHighValueCents, e.config.RemoteHighValueCents)
	assert.Equal(t, d.HistoryWindow, e.config.HistoryWindow)
}

func TestClassifyRejectsInvalidTransaction(t *testing.T) {
	store := testutil.SetupTestDB(t)
	e := newTestEngine(t, Options{Storage: store})

	_, err := e.Classify(context.Background(), model.Transaction{MerchantName: "somewhere"})
	require.Error(t, err)

	decisions, err := store.GetRecentDecisions(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestClassifyStatisticalRoute(t *testing.T) {
	store := testutil.SetupTestDB(t)
	e := newTestEngine(t, Options{Storage: store})

	result, err := e.Classify(context.Background(), coffeeTxn("txn-1", 850))
	require.NoError(t, err)

	assert.Equal(t, model.RouteStatistical, result.Route)
	assert.Equal(t, 1, result.CategoryID)
	assert.Greater(t, result.Confidence, 0.75)
	assert.Zero(t, result.CostCents)

	decision, err := store.GetDecisionByTransactionID(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.RouteStatistical, decision.Route)
	assert.Equal(t, 1, decision.CategoryID)
}

func TestClassifySavesExactlyOneDecision(t *testing.T) {
	store := testutil.SetupTestDB(t)
	e := newTestEngine(t, Options{Storage: store})

	_, err := e.Classify(context.Background(), coffeeTxn("txn-1", 850))
	require.NoError(t, err)

	decisions, err := store.GetRecentDecisions(context.Background(), time.Time{}, 100)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestClassifySecondIdenticalTransactionHitsCache(t *testing.T) {
	store := testutil.SetupTestDB(t)
	e := newTestEngine(t, Options{
		Storage: store,
		Cache:   cache.New(store, nil),
	})

	first, err := e.Classify(context.Background(), coffeeTxn("txn-1", 850))
	require.NoError(t, err)
	require.Equal(t, model.RouteStatistical, first.Route)

	// Same merchant, amount, and description; only the ID differs.
	second, err := e.Classify(context.Background(), coffeeTxn("txn-2", 850))
	require.NoError(t, err)

	assert.Equal(t, model.RouteCache, second.Route)
	assert.Equal(t, first.CategoryID, second.CategoryID)
	assert.Zero(t, second.CostCents)
}

func TestClassifyUnresolvedWithoutTrainedModel(t *testing.T) {
	store := testutil.SetupTestDB(t)
	e := newTestEngine(t, Options{
		Storage:    store,
		Classifier: bayes.NewClassifier(nil),
	})

	result, err := e.Classify(context.Background(), coffeeTxn("txn-1", 850))
	require.NoError(t, err)

	assert.Equal(t, model.RouteUnresolved, result.Route)
	assert.Zero(t, result.CategoryID)
	assert.Zero(t, result.Confidence)

	decision, err := store.GetDecisionByTransactionID(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.RouteUnresolved, decision.Route)
}

func TestClassifySimilarityRoute(t *testing.T) {
	embedder := feature.NewHashingEmbedder(64)
	index := similarity.NewIndex(nil)

	// Three labeled neighbors identical to the query transaction.
	txn := coffeeTxn("txn-1", 850)
	vector, err := embedder.Embed(context.Background(), feature.EmbeddingText(txn))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		index.Add(vector, 2)
	}

	e := newTestEngine(t, Options{
		Classifier: bayes.NewClassifier(nil),
		Index:      index,
		Embedder:   embedder,
	})

	result, err := e.Classify(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, model.RouteSimilarity, result.Route)
	assert.Equal(t, 2, result.CategoryID)
	assert.GreaterOrEqual(t, result.Confidence, 0.80)
}

func TestRemoteAcceptedWhenMoreConfident(t *testing.T) {
	rc := &fakeRemote{
		result: remote.Result{
			CategoryID: 3,
			Confidence: 0.92,
			CostCents:  4,
			Reasoning:  "matched transport patterns",
		},
		estimate: 10,
	}
	e := newTestEngine(t, Options{
		Classifier: uncertainClassifier(),
		Remote:     rc,
	})

	result, err := e.Classify(context.Background(), coffeeTxn("txn-1", 5000))
	require.NoError(t, err)

	assert.Equal(t, 1, rc.calls)
	assert.Equal(t, model.RouteRemote, result.Route)
	assert.Equal(t, 3, result.CategoryID)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.Equal(t, int64(4), result.CostCents)
}

func TestRemoteSkippedWhenNotWorthTheCost(t *testing.T) {
	rc := &fakeRemote{estimate: 100}
	e := newTestEngine(t, Options{
		Classifier: uncertainClassifier(),
		Remote:     rc,
	})

	// A one dollar transaction does not justify a two dollar estimate.
	result, err := e.Classify(context.Background(), coffeeTxn("txn-1", 100))
	require.NoError(t, err)

	assert.Zero(t, rc.calls)
	assert.Equal(t, model.RouteStatistical, result.Route)
	assert.Equal(t, 1, result.CategoryID)
	assert.Less(t, result.Confidence, 0.75)
}

func TestRemoteSkippedWhenBudgetExhausted(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	_, err := store.AddSpend(ctx, time.Now().Format("2006-01-02"), 500)
	require.NoError(t, err)
	guard, err := budget.NewGuard(ctx, store, budget.Limits{DailyCapCents: 500, MonthlyCapCents: 10000}, nil)
	require.NoError(t, err)

	rc := &fakeRemote{result: remote.Result{CategoryID: 3, Confidence: 0.95, CostCents: 4}, estimate: 10}
	e := newTestEngine(t, Options{
		Storage:    store,
		Classifier: uncertainClassifier(),
		Remote:     rc,
		Guard:      guard,
	})

	result, err := e.Classify(ctx, coffeeTxn("txn-1", 5000))
	require.NoError(t, err)

	assert.Zero(t, rc.calls)
	assert.Equal(t, model.RouteStatistical, result.Route)
	assert.Equal(t, 1, result.CategoryID)
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"timeout", fmt.Errorf("%w after 5s", common.ErrRemoteTimeout)},
		{"unparseable reply", fmt.Errorf("%w: no category line", common.ErrRemoteParse)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := &fakeRemote{err: tt.err, estimate: 10}
			e := newTestEngine(t, Options{
				Classifier: uncertainClassifier(),
				Remote:     rc,
			})

			result, err := e.Classify(context.Background(), coffeeTxn("txn-1", 5000))
			require.NoError(t, err)

			assert.Equal(t, 1, rc.calls)
			assert.Equal(t, model.RouteStatistical, result.Route)
			assert.Equal(t, 1, result.CategoryID)
		})
	}
}

func TestRemoteNoBetterThanLocalDiscardedButCostKept(t *testing.T) {
	rc := &fakeRemote{
		result:   remote.Result{CategoryID: 3, Confidence: 0.50, CostCents: 7},
		estimate: 10,
	}
	e := newTestEngine(t, Options{
		Classifier: uncertainClassifier(),
		Remote:     rc,
	})

	result, err := e.Classify(context.Background(), coffeeTxn("txn-1", 5000))
	require.NoError(t, err)

	assert.Equal(t, 1, rc.calls)
	assert.Equal(t, model.RouteStatistical, result.Route)
	assert.Equal(t, 1, result.CategoryID)
	assert.Equal(t, int64(7), result.CostCents, "discarded remote call still costs money")
}

func TestCorrectionRuleRemapsBeforeRemote(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	rule := &model.CorrectionRule{
		MerchantPattern: "blue bottle coffee",
		FromCategoryID:  1,
		ToCategoryID:    2,
		Confidence:      0.9,
		IsActive:        true,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, store.SaveCorrectionRule(ctx, rule))

	rc := &fakeRemote{result: remote.Result{CategoryID: 3, Confidence: 0.95, CostCents: 4}, estimate: 10}
	e := newTestEngine(t, Options{
		Storage:    store,
		Classifier: uncertainClassifier(),
		Remote:     rc,
	})

	result, err := e.Classify(ctx, coffeeTxn("txn-1", 5000))
	require.NoError(t, err)

	assert.Zero(t, rc.calls, "rule should resolve before any paid call")
	assert.Equal(t, model.RouteStatistical, result.Route)
	assert.Equal(t, 2, result.CategoryID)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)

	rules, err := store.GetActiveCorrectionRules(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].UseCount)
}

func TestSubmitCorrectionMarksDecision(t *testing.T) {
	store := testutil.SetupTestDB(t)
	classifier := confidentClassifier()
	pipeline := learning.NewPipeline(store, classifier, similarity.NewIndex(nil), feature.NewHashingEmbedder(64), nil)
	e := newTestEngine(t, Options{
		Storage:    store,
		Classifier: classifier,
		Pipeline:   pipeline,
	})

	txn := coffeeTxn("txn-1", 850)
	result, err := e.Classify(context.Background(), txn)
	require.NoError(t, err)

	require.NoError(t, e.SubmitCorrection(txn, result.CategoryID, 2))
	require.NoError(t, e.Close())

	decision, err := store.GetDecisionByTransactionID(context.Background(), "txn-1")
	require.NoError(t, err)
	require.NotNil(t, decision.Correct)
	assert.False(t, *decision.Correct)
}

func TestSubmitCorrectionWithoutPipeline(t *testing.T) {
	e := newTestEngine(t, Options{})
	err := e.SubmitCorrection(coffeeTxn("txn-1", 850), 1, 2)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestCloseShutsDownRemote(t *testing.T) {
	rc := &fakeRemote{}
	e := newTestEngine(t, Options{Remote: rc})
	require.NoError(t, e.Close())
	assert.True(t, rc.closed)
}
