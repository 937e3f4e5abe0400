package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cardamom-hq/cardamom/internal/budget"
	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/model"
)

// Config holds configuration for the remote classifier.
type Config struct {
	Provider      string
	APIKey        string
	Tiers         []Tier
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	RateLimit     int // requests per minute
	MaxConcurrent int64
}

// Result is an accepted remote classification with its attributed cost.
type Result struct {
	Reasoning  string
	TierName   string
	CategoryID int
	Confidence float64
	CostCents  int64
}

// Classifier calls the paid provider. Every call is bounded by a hard
// timeout and a concurrency cap; cost is tracked on every successful call
// whether or not the router ultimately uses the result.
type Classifier struct {
	client  Client
	guard   *budget.Guard
	limiter *rateLimiter
	sem     *semaphore.Weighted
	logger  *slog.Logger
	tiers   []Tier
	timeout time.Duration
}

// NewClassifier creates a remote classifier for the configured provider.
func NewClassifier(cfg Config, guard *budget.Guard, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: remote api key", common.ErrMissingConfig)
	}

	var client Client
	var err error
	tiers := cfg.Tiers

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		client, err = newOpenAIClient(cfg)
		if len(tiers) == 0 {
			tiers = DefaultOpenAITiers()
		}
	case "anthropic":
		client, err = newAnthropicClient(cfg)
		if len(tiers) == 0 {
			tiers = DefaultAnthropicTiers()
		}
	default:
		return nil, fmt.Errorf("unsupported remote provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &Classifier{
		client:  client,
		guard:   guard,
		tiers:   tiers,
		timeout: timeout,
		limiter: newRateLimiter(cfg.RateLimit),
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger,
	}, nil
}

// EstimateCostCents predicts the cost of classifying at the tier the
// complexity score selects, for the router's value check.
func (c *Classifier) EstimateCostCents(txn model.Transaction, categories []model.Category, complexityScore float64) int64 {
	tier := selectTier(c.tiers, complexityScore)
	prompt := buildPrompt(Anonymize(txn), categories)
	return tier.EstimateCostCents(len(prompt))
}

// Classify anonymizes the transaction, sends it to the tier selected by
// the complexity score, and returns the mapped result. Timeouts and
// unparseable replies surface as ErrRemoteTimeout/ErrRemoteParse; the
// router recovers both by falling back to the statistical result.
func (c *Classifier) Classify(ctx context.Context, txn model.Transaction, categories []model.Category, complexityScore float64) (Result, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrRemoteTimeout, err)
	}
	defer c.sem.Release(1)

	if err := c.limiter.wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit error: %w", err)
	}

	tier := selectTier(c.tiers, complexityScore)
	prompt := buildPrompt(Anonymize(txn), categories)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	response, err := c.client.Classify(callCtx, tier.Model, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			// The call is cancelled with its context; a late reply is
			// discarded, never merged into the decision.
			return Result{}, fmt.Errorf("%w after %v", common.ErrRemoteTimeout, c.timeout)
		}
		return Result{}, fmt.Errorf("%w: %v", common.ErrRemoteParse, err)
	}

	cost := tier.CostCents(response.InputTokens, response.OutputTokens)

	// Cost is attributed on every successful call, even when the router
	// later discards the result.
	if c.guard != nil {
		if _, trackErr := c.guard.Track(ctx, cost); trackErr != nil {
			c.logger.Error("failed to track remote spend",
				"cost_cents", cost,
				"error", trackErr)
		}
	}

	category := model.CategoryByName(categories, response.Category)
	if category == nil {
		return Result{}, fmt.Errorf("%w: unknown category %q", common.ErrRemoteParse, response.Category)
	}

	c.logger.Info("remote classification completed",
		"transaction_id", txn.ID,
		"tier", tier.Name,
		"category_id", category.ID,
		"confidence", response.Confidence,
		"cost_cents", cost,
		"latency", time.Since(start))

	return Result{
		CategoryID: category.ID,
		Confidence: response.Confidence,
		Reasoning:  response.Reasoning,
		CostCents:  cost,
		TierName:   tier.Name,
	}, nil
}

// Close stops background goroutines.
func (c *Classifier) Close() error {
	if c.limiter != nil {
		c.limiter.Close()
	}
	return nil
}

// buildPrompt creates the classification prompt from the anonymized record.
func buildPrompt(record AnonymizedRecord, categories []model.Category) string {
	var categoryList strings.Builder
	for _, cat := range categories {
		categoryList.WriteString(fmt.Sprintf("- %s\n", cat.Name))
	}

	currency := record.Currency
	if currency == "" {
		currency = "USD"
	}

	return fmt.Sprintf(`Classify this financial transaction into the most appropriate category based solely on the transaction details.

IMPORTANT GUIDELINES:
- Base your classification purely on what the transaction IS, not assumptions about its purpose
- Classify by merchant type, not assumed intent
- Choose ONLY from the existing categories below

Existing Categories:
%s
Transaction Details:
Merchant: %s
Approximate Amount: %.2f %s
Weekday: %s
Description: %s

Respond in this exact format:
CATEGORY: <existing category name>
CONFIDENCE: <0.0-1.0>
REASONING: <one sentence>`,
		categoryList.String(),
		record.Merchant,
		float64(record.AmountCents)/100.0,
		currency,
		record.Weekday,
		record.Description)
}
