// Package complexity scores how hard a transaction is to classify
// confidently, so the router can decide whether a paid remote call is
// worth its cost.
package complexity

import (
	"math"
	"unicode"

	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/model"
)

// Factor weights. They sum to 1 so the combined score stays in [0,1].
const (
	weightMerchant = 0.25
	weightText     = 0.15
	weightAmount   = 0.15
	weightHistory  = 0.15
	weightPattern  = 0.10
	weightMargin   = 0.20
)

// Snapshot is a read-only view of recent classification history. The
// analyzer never mutates anything through it.
type Snapshot interface {
	// MerchantSeen reports whether the normalized merchant has been
	// classified before.
	MerchantSeen(normalizedMerchant string) bool
	// MerchantFailureRate returns the recent correction rate for the
	// normalized merchant in [0,1].
	MerchantFailureRate(normalizedMerchant string) float64
	// AmountStats returns the mean and standard deviation of recent
	// transaction amounts in cents. ok is false when too little history
	// exists to judge unusualness.
	AmountStats() (mean, stddev float64, ok bool)
	// HasRuleFor reports whether a correction rule or known pattern
	// exists for the normalized merchant.
	HasRuleFor(normalizedMerchant string) bool
	// StatisticalMargin returns the gap between the top-2 class
	// probabilities for the feature map. ok is false when no trained
	// model exists.
	StatisticalMargin(features feature.Map) (margin float64, ok bool)
}

// Factors is the per-factor breakdown of a complexity score.
type Factors struct {
	MerchantAmbiguity    float64
	TextComplexity       float64
	AmountUnusualness    float64
	HistoricalDifficulty float64
	PatternAbsence       float64
	MarginAmbiguity      float64
}

// Score is the analyzer's output: a combined [0,1] score, the factor
// breakdown, and the dominant factor for diagnostics.
type Score struct {
	PrimaryIssue string
	Factors      Factors
	Score        float64
}

// Analyzer computes complexity scores. It is stateless; all history comes
// from the snapshot passed to Analyze.
type Analyzer struct{}

// NewAnalyzer creates a complexity analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze scores a transaction. Pure function of the transaction, its
// feature map, and the read-only history snapshot.
func (a *Analyzer) Analyze(txn model.Transaction, features feature.Map, snap Snapshot) Score {
	merchant := feature.NormalizeMerchant(txn.MerchantName)

	f := Factors{
		MerchantAmbiguity:    a.merchantAmbiguity(txn, merchant, snap),
		TextComplexity:       a.textComplexity(txn),
		AmountUnusualness:    a.amountUnusualness(txn, snap),
		HistoricalDifficulty: clamp01(snap.MerchantFailureRate(merchant)),
		PatternAbsence:       a.patternAbsence(merchant, snap),
		MarginAmbiguity:      a.marginAmbiguity(features, snap),
	}

	contributions := map[string]float64{
		"merchant_ambiguity":    weightMerchant * f.MerchantAmbiguity,
		"text_complexity":       weightText * f.TextComplexity,
		"amount_unusualness":    weightAmount * f.AmountUnusualness,
		"historical_difficulty": weightHistory * f.HistoricalDifficulty,
		"pattern_absence":       weightPattern * f.PatternAbsence,
		"margin_ambiguity":      weightMargin * f.MarginAmbiguity,
	}

	var total float64
	primary, primaryWeight := "", -1.0
	for name, c := range contributions {
		total += c
		if c > primaryWeight || (c == primaryWeight && name < primary) {
			primary, primaryWeight = name, c
		}
	}

	return Score{
		Score:        clamp01(total),
		Factors:      f,
		PrimaryIssue: primary,
	}
}

// merchantAmbiguity is high for merchants never seen before and for
// cryptic names (short, digit-heavy, or empty after normalization).
func (a *Analyzer) merchantAmbiguity(txn model.Transaction, merchant string, snap Snapshot) float64 {
	score := 0.7
	if snap.MerchantSeen(merchant) {
		score = 0.2
	}

	if len(merchant) < 4 {
		score += 0.3
	} else if digitRatio(txn.MerchantName) > 0.3 {
		score += 0.2
	}

	return clamp01(score)
}

// textComplexity combines description length, punctuation density, and
// non-ASCII (multilingual) markers.
func (a *Analyzer) textComplexity(txn model.Transaction) float64 {
	text := txn.Description
	if text == "" {
		text = txn.MerchantName
	}
	if text == "" {
		return 1.0
	}

	lengthScore := math.Min(float64(len(text))/120.0, 1.0)

	var punct, nonASCII int
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
		if r > unicode.MaxASCII {
			nonASCII++
		}
	}
	runes := float64(len([]rune(text)))
	punctScore := math.Min(float64(punct)/runes*4.0, 1.0)
	multilingualScore := math.Min(float64(nonASCII)/runes*8.0, 1.0)

	return clamp01((lengthScore + punctScore + multilingualScore) / 3.0)
}

// amountUnusualness buckets the z-score of the amount against the recent
// amount distribution.
func (a *Analyzer) amountUnusualness(txn model.Transaction, snap Snapshot) float64 {
	mean, stddev, ok := snap.AmountStats()
	if !ok || stddev <= 0 {
		return 0.5 // no history to judge against
	}

	z := math.Abs(float64(txn.AmountCents)-mean) / stddev
	switch {
	case z < 1:
		return 0
	case z < 2:
		return 0.33
	case z < 3:
		return 0.66
	default:
		return 1
	}
}

func (a *Analyzer) patternAbsence(merchant string, snap Snapshot) float64 {
	if snap.HasRuleFor(merchant) {
		return 0
	}
	return 1
}

// marginAmbiguity is high when the statistical classifier's top-2
// probabilities are close. Neutral when no model exists yet.
func (a *Analyzer) marginAmbiguity(features feature.Map, snap Snapshot) float64 {
	margin, ok := snap.StatisticalMargin(features)
	if !ok {
		return 0.5
	}
	return clamp01(1.0 - margin/0.5)
}

func digitRatio(s string) float64 {
	if s == "" {
		return 0
	}
	var digits int
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return float64(digits) / float64(len([]rune(s)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// HighAmbiguityCutoff is the merchant-ambiguity level above which the
// similarity layer refuses to vote, to avoid false consensus on cryptic
// merchants.
const HighAmbiguityCutoff = 0.8
