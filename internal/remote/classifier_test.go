package remote

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/cardamom-hq/cardamom/internal/budget"
	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/model"
)

type fakeClient struct {
	response  Response
	err       error
	delay     time.Duration
	lastModel string
}

func (f *fakeClient) Classify(ctx context.Context, modelName, _ string) (Response, error) {
	f.lastModel = modelName
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return f.response, f.err
}

type fakeSpendStore struct {
	totals map[string]int64
}

func (s *fakeSpendStore) AddSpend(_ context.Context, key string, amount int64) (int64, error) {
	s.totals[key] += amount
	return s.totals[key], nil
}

func (s *fakeSpendStore) GetSpend(_ context.Context, key string) (int64, error) {
	return s.totals[key], nil
}

func testClassifier(t *testing.T, client Client, guard *budget.Guard) *Classifier {
	t.Helper()
	c := &Classifier{
		client:  client,
		guard:   guard,
		tiers:   DefaultAnthropicTiers(),
		timeout: 50 * time.Millisecond,
		limiter: newRateLimiter(0),
		sem:     semaphore.NewWeighted(2),
		logger:  slog.Default(),
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCategories() []model.Category {
	return []model.Category{
		{ID: 1, Name: "Groceries"},
		{ID: 2, Name: "Dining"},
	}
}

func testTxn() model.Transaction {
	return model.Transaction{
		ID:           "txn-remote",
		Date:         time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		MerchantName: "Whole Foods",
		Description:  "groceries",
		AmountCents:  4500,
		Currency:     "USD",
	}
}

func TestClassifySuccessMapsCategoryAndTracksCost(t *testing.T) {
	store := &fakeSpendStore{totals: map[string]int64{}}
	guard, err := budget.NewGuard(context.Background(), store, budget.Limits{DailyCapCents: 10000, MonthlyCapCents: 100000}, nil)
	require.NoError(t, err)

	client := &fakeClient{response: Response{
		Category:     "Groceries",
		Confidence:   0.9,
		Reasoning:    "food retailer",
		InputTokens:  4000,
		OutputTokens: 100,
	}}
	c := testClassifier(t, client, guard)

	result, err := c.Classify(context.Background(), testTxn(), testCategories(), 0.2)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CategoryID)
	assert.Equal(t, "fast", result.TierName)
	assert.Positive(t, result.CostCents)

	usage := guard.UsageReport(context.Background())
	assert.Equal(t, result.CostCents, usage.DailySpentCents)
}

func TestClassifyTimeoutMapsToErrRemoteTimeout(t *testing.T) {
	client := &fakeClient{delay: time.Second, response: Response{Category: "Groceries", Confidence: 0.9}}
	c := testClassifier(t, client, nil)

	_, err := c.Classify(context.Background(), testTxn(), testCategories(), 0.2)
	assert.ErrorIs(t, err, common.ErrRemoteTimeout)
}

func TestClassifyProviderErrorMapsToErrRemoteParse(t *testing.T) {
	client := &fakeClient{err: errors.New("malformed reply")}
	c := testClassifier(t, client, nil)

	_, err := c.Classify(context.Background(), testTxn(), testCategories(), 0.2)
	assert.ErrorIs(t, err, common.ErrRemoteParse)
}

func TestClassifyUnknownCategoryIsAParseError(t *testing.T) {
	client := &fakeClient{response: Response{Category: "Cryptocurrency", Confidence: 0.9}}
	c := testClassifier(t, client, nil)

	_, err := c.Classify(context.Background(), testTxn(), testCategories(), 0.2)
	assert.ErrorIs(t, err, common.ErrRemoteParse)
}

func TestClassifyComplexitySelectsModel(t *testing.T) {
	client := &fakeClient{response: Response{Category: "Dining", Confidence: 0.8}}
	c := testClassifier(t, client, nil)

	_, err := c.Classify(context.Background(), testTxn(), testCategories(), 0.9)
	require.NoError(t, err)
	assert.Equal(t, DefaultAnthropicTiers()[2].Model, client.lastModel)
}

func TestEstimateCostCentsMatchesSelectedTier(t *testing.T) {
	c := testClassifier(t, &fakeClient{}, nil)

	cheap := c.EstimateCostCents(testTxn(), testCategories(), 0.1)
	deep := c.EstimateCostCents(testTxn(), testCategories(), 0.95)

	assert.Greater(t, deep, cheap)
}

func TestNewClassifierRequiresAPIKey(t *testing.T) {
	_, err := NewClassifier(Config{Provider: "anthropic"}, nil, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
