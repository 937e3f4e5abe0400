package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cardamom-hq/cardamom/internal/bayes"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/service"
)

// historyStats is one immutable aggregation of recent decisions and
// active correction rules. A new value replaces the old wholesale on
// refresh; readers never see a partial rebuild.
type historyStats struct {
	builtAt          time.Time
	merchantTotals   map[string]int
	merchantFailures map[string]int
	rulesByMerchant  map[string][]model.CorrectionRule
}

// History aggregates the read-only view of recent classification history
// that the complexity analyzer and the router's rule check consume. The
// aggregation is rebuilt on an interval, off the critical measurements.
type History struct {
	storage    service.Storage
	classifier *bayes.Classifier
	logger     *slog.Logger
	window     time.Duration
	interval   time.Duration

	mu    sync.Mutex
	stats *historyStats

	// Running amount distribution, updated per observed transaction.
	amountMu    sync.Mutex
	amountCount int64
	amountMean  float64
	amountM2    float64
}

// NewHistory creates a history aggregator.
func NewHistory(storage service.Storage, classifier *bayes.Classifier, window, interval time.Duration, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{
		storage:    storage,
		classifier: classifier,
		logger:     logger,
		window:     window,
		interval:   interval,
		stats: &historyStats{
			merchantTotals:   map[string]int{},
			merchantFailures: map[string]int{},
			rulesByMerchant:  map[string][]model.CorrectionRule{},
		},
	}
}

// ObserveAmount folds one transaction amount into the running
// distribution (Welford's algorithm).
func (h *History) ObserveAmount(amountCents int64) {
	h.amountMu.Lock()
	defer h.amountMu.Unlock()

	h.amountCount++
	value := float64(amountCents)
	delta := value - h.amountMean
	h.amountMean += delta / float64(h.amountCount)
	h.amountM2 += delta * (value - h.amountMean)
}

// Snapshot returns a consistent read-only view, rebuilding the aggregation
// first when it has gone stale.
func (h *History) Snapshot(ctx context.Context) *Snapshot {
	h.mu.Lock()
	stats := h.stats
	stale := time.Since(stats.builtAt) >= h.interval
	h.mu.Unlock()

	if stale {
		if rebuilt, err := h.rebuild(ctx); err == nil {
			h.mu.Lock()
			h.stats = rebuilt
			h.mu.Unlock()
			stats = rebuilt
		} else {
			h.logger.Warn("history refresh failed, serving stale snapshot", "error", err)
		}
	}

	h.amountMu.Lock()
	count, mean, m2 := h.amountCount, h.amountMean, h.amountM2
	h.amountMu.Unlock()

	return &Snapshot{
		stats:       stats,
		classifier:  h.classifier,
		amountCount: count,
		amountMean:  mean,
		amountM2:    m2,
	}
}

// rebuild aggregates recent decisions and active rules into a fresh stats
// value.
func (h *History) rebuild(ctx context.Context) (*historyStats, error) {
	now := time.Now()
	stats := &historyStats{
		builtAt:          now,
		merchantTotals:   map[string]int{},
		merchantFailures: map[string]int{},
		rulesByMerchant:  map[string][]model.CorrectionRule{},
	}

	decisions, err := h.storage.GetRecentDecisions(ctx, now.Add(-h.window), 2000)
	if err != nil {
		return nil, err
	}
	for _, d := range decisions {
		if d.MerchantName == "" {
			continue
		}
		stats.merchantTotals[d.MerchantName]++
		if d.Correct != nil && !*d.Correct {
			stats.merchantFailures[d.MerchantName]++
		}
	}

	rules, err := h.storage.GetActiveCorrectionRules(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		stats.rulesByMerchant[r.MerchantPattern] = append(stats.rulesByMerchant[r.MerchantPattern], r)
	}

	return stats, nil
}

// Snapshot is a read-only view of recent history. It implements
// complexity.Snapshot and also serves the router's correction-rule check.
type Snapshot struct {
	stats       *historyStats
	classifier  *bayes.Classifier
	amountCount int64
	amountMean  float64
	amountM2    float64
}

// MerchantSeen reports whether the normalized merchant appears in recent
// decisions.
func (s *Snapshot) MerchantSeen(normalizedMerchant string) bool {
	return s.stats.merchantTotals[normalizedMerchant] > 0
}

// MerchantFailureRate returns the recent correction rate for the merchant.
func (s *Snapshot) MerchantFailureRate(normalizedMerchant string) float64 {
	total := s.stats.merchantTotals[normalizedMerchant]
	if total == 0 {
		return 0
	}
	return float64(s.stats.merchantFailures[normalizedMerchant]) / float64(total)
}

// AmountStats returns the running mean and standard deviation of observed
// amounts in cents.
func (s *Snapshot) AmountStats() (mean, stddev float64, ok bool) {
	if s.amountCount < 10 {
		return 0, 0, false
	}
	variance := s.amountM2 / float64(s.amountCount-1)
	return s.amountMean, math.Sqrt(variance), true
}

// HasRuleFor reports whether any active correction rule targets the
// merchant.
func (s *Snapshot) HasRuleFor(normalizedMerchant string) bool {
	return len(s.stats.rulesByMerchant[normalizedMerchant]) > 0
}

// StatisticalMargin returns the active model's top-2 probability gap.
func (s *Snapshot) StatisticalMargin(features feature.Map) (float64, bool) {
	if s.classifier == nil {
		return 0, false
	}
	prediction, err := s.classifier.Predict(features)
	if err != nil {
		return 0, false
	}
	return prediction.Margin, true
}

// RuleFor returns the highest-confidence active rule matching the merchant
// and predicted category, or nil.
func (s *Snapshot) RuleFor(normalizedMerchant string, predictedCategoryID int) *model.CorrectionRule {
	for i := range s.stats.rulesByMerchant[normalizedMerchant] {
		rule := &s.stats.rulesByMerchant[normalizedMerchant][i]
		if rule.Matches(normalizedMerchant, predictedCategoryID) {
			return rule
		}
	}
	return nil
}
