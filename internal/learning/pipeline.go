// Package learning turns user corrections into model updates, training
// samples, and correction rules, off the classification hot path.
package learning

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cardamom-hq/cardamom/internal/bayes"
	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/service"
	"github.com/cardamom-hq/cardamom/internal/similarity"
)

const (
	defaultQueueSize = 256

	// ruleMinCorrections is how many similar corrections with the same
	// predicted-to-actual remap must accumulate before a rule is born.
	ruleMinCorrections = 3

	// ruleTTL bounds a synthesized rule's lifetime; stale remaps must not
	// outlive the behavior that caused them.
	ruleTTL = 30 * 24 * time.Hour

	// correctionRetention is how long a correction stays eligible as
	// evidence for rule synthesis.
	correctionRetention = 30 * 24 * time.Hour

	maxRetainedCorrections = 500

	amountRatioCutoff    = 0.8
	descriptionSimCutoff = 0.5
)

// Correction is one user fix queued for background processing.
type Correction struct {
	ReceivedAt          time.Time
	Transaction         model.Transaction
	PredictedCategoryID int
	ActualCategoryID    int
}

// RouteStat counts feedback outcomes for one route.
type RouteStat struct {
	Correct   int64
	Incorrect int64
}

// observed is the retained evidence for one processed correction.
type observed struct {
	receivedAt  time.Time
	merchant    string
	description []string
	amountCents int64
	predicted   int
	actual      int
}

// Pipeline consumes corrections asynchronously: it marks decision
// correctness, feeds the statistical model and the similarity index, and
// synthesizes correction rules from recurring mistakes. Enqueue never
// blocks; a full queue drops the correction.
type Pipeline struct {
	storage    service.Storage
	classifier *bayes.Classifier
	index      *similarity.Index
	embedder   feature.Embedder
	logger     *slog.Logger

	queue  chan Correction
	cancel context.CancelFunc

	mu     sync.Mutex
	recent []observed
	ruled  map[ruleKey]time.Time
	routes map[model.Route]*RouteStat
	closed bool
	wg     sync.WaitGroup
}

type ruleKey struct {
	merchant  string
	predicted int
	actual    int
}

// NewPipeline starts the background worker.
func NewPipeline(storage service.Storage, classifier *bayes.Classifier, index *similarity.Index, embedder feature.Embedder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		storage:    storage,
		classifier: classifier,
		index:      index,
		embedder:   embedder,
		logger:     logger,
		queue:      make(chan Correction, defaultQueueSize),
		cancel:     cancel,
		ruled:      map[ruleKey]time.Time{},
		routes:     map[model.Route]*RouteStat{},
	}

	p.wg.Add(1)
	go p.run(ctx)
	return p
}

// Enqueue queues a correction for processing. It reports false when the
// queue is full and the correction was dropped.
func (p *Pipeline) Enqueue(c Correction) bool {
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now()
	}

	// The send must stay under the mutex: Close closes the queue under the
	// same lock, and a send racing that close would panic.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.queue <- c:
		return true
	default:
		return false
	}
}

// RouteStats returns feedback tallies per route.
func (p *Pipeline) RouteStats() map[model.Route]RouteStat {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[model.Route]RouteStat, len(p.routes))
	for route, stat := range p.routes {
		out[route] = *stat
	}
	return out
}

// Close stops the worker after draining already-queued corrections.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()

	for c := range p.queue {
		if err := p.process(ctx, c); err != nil {
			p.logger.Warn("correction processing failed",
				"transaction_id", c.Transaction.ID,
				"error", err)
		}
	}
}

// process applies one correction end to end. Each step is independent: a
// failure in one is logged and the rest still run.
func (p *Pipeline) process(ctx context.Context, c Correction) error {
	var firstErr error

	correct := c.PredictedCategoryID == c.ActualCategoryID
	if err := p.storage.MarkDecisionCorrectness(ctx, c.Transaction.ID, correct); err != nil && !errors.Is(err, common.ErrNotFound) {
		firstErr = err
	}

	p.tallyRoute(ctx, c.Transaction.ID, correct)

	features := feature.Extract(c.Transaction)

	if err := p.storage.SaveTrainingSample(ctx, &service.TrainingSample{
		Features:   features,
		CategoryID: c.ActualCategoryID,
		Source:     "correction",
		CreatedAt:  c.ReceivedAt,
	}); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := p.classifier.Learn(bayes.Sample{Features: features, CategoryID: c.ActualCategoryID}); err != nil {
		if !errors.Is(err, common.ErrModelUnavailable) && firstErr == nil {
			firstErr = err
		}
	}

	if p.index != nil && p.embedder != nil {
		if vector, err := p.embedder.Embed(ctx, feature.EmbeddingText(c.Transaction)); err == nil {
			p.index.Add(vector, c.ActualCategoryID)
		} else {
			p.logger.Warn("embedding for correction failed",
				"transaction_id", c.Transaction.ID, "error", err)
		}
	}

	if !correct {
		if err := p.maybeSynthesizeRule(ctx, c); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// tallyRoute attributes the feedback to the route that produced the
// original decision.
func (p *Pipeline) tallyRoute(ctx context.Context, transactionID string, correct bool) {
	decision, err := p.storage.GetDecisionByTransactionID(ctx, transactionID)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stat, ok := p.routes[decision.Route]
	if !ok {
		stat = &RouteStat{}
		p.routes[decision.Route] = stat
	}
	if correct {
		stat.Correct++
	} else {
		stat.Incorrect++
	}
}

// maybeSynthesizeRule records the correction as evidence and, once enough
// similar corrections share the same remap, persists a correction rule.
func (p *Pipeline) maybeSynthesizeRule(ctx context.Context, c Correction) error {
	merchant := feature.NormalizeMerchant(c.Transaction.MerchantName)
	entry := observed{
		receivedAt:  c.ReceivedAt,
		merchant:    merchant,
		description: feature.Tokenize(c.Transaction.Description),
		amountCents: c.Transaction.AmountCents,
		predicted:   c.PredictedCategoryID,
		actual:      c.ActualCategoryID,
	}

	p.mu.Lock()
	p.retain(entry)

	key := ruleKey{merchant: merchant, predicted: c.PredictedCategoryID, actual: c.ActualCategoryID}
	if _, already := p.ruled[key]; already {
		p.mu.Unlock()
		return nil
	}

	similar := p.similarEvidence(entry)
	if len(similar) < ruleMinCorrections {
		p.mu.Unlock()
		return nil
	}

	p.ruled[key] = time.Now()
	merchantTotal := 0
	for _, o := range p.recent {
		if o.merchant == merchant && o.predicted == c.PredictedCategoryID {
			merchantTotal++
		}
	}
	p.mu.Unlock()

	confidence := ruleConfidence(similar, merchantTotal, time.Now())

	rule := &model.CorrectionRule{
		MerchantPattern: merchant,
		FromCategoryID:  c.PredictedCategoryID,
		ToCategoryID:    c.ActualCategoryID,
		Confidence:      confidence,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(ruleTTL),
		IsActive:        true,
	}
	if err := p.storage.SaveCorrectionRule(ctx, rule); err != nil {
		p.mu.Lock()
		delete(p.ruled, key)
		p.mu.Unlock()
		return err
	}

	p.logger.Info("correction rule synthesized",
		"merchant", merchant,
		"from_category", c.PredictedCategoryID,
		"to_category", c.ActualCategoryID,
		"confidence", confidence,
		"evidence", len(similar))
	return nil
}

// retain appends the entry and evicts expired or excess evidence. Caller
// holds p.mu.
func (p *Pipeline) retain(entry observed) {
	cutoff := time.Now().Add(-correctionRetention)
	kept := p.recent[:0]
	for _, o := range p.recent {
		if o.receivedAt.After(cutoff) {
			kept = append(kept, o)
		}
	}
	p.recent = append(kept, entry)

	if len(p.recent) > maxRetainedCorrections {
		p.recent = p.recent[len(p.recent)-maxRetainedCorrections:]
	}
}

// similarEvidence returns the retained corrections (including entry's own)
// that share entry's remap and look like the same underlying mistake.
// Caller holds p.mu.
func (p *Pipeline) similarEvidence(entry observed) []observed {
	var out []observed
	for _, o := range p.recent {
		if o.predicted != entry.predicted || o.actual != entry.actual {
			continue
		}
		if similarTransactions(o, entry) {
			out = append(out, o)
		}
	}
	return out
}

// similarTransactions reports whether two corrected transactions plausibly
// represent the same recurring mistake.
func similarTransactions(a, b observed) bool {
	if a.merchant != "" && a.merchant == b.merchant {
		return true
	}
	if amountRatio(a.amountCents, b.amountCents) > amountRatioCutoff {
		return true
	}
	return tokenOverlap(a.description, b.description) > descriptionSimCutoff
}

func amountRatio(a, b int64) float64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a == 0 || b == 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return float64(a) / float64(b)
}

// tokenOverlap is the Jaccard similarity of two token sets.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	shared := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			shared++
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
}

// ruleConfidence blends how consistently the merchant's predictions needed
// this remap with how recent the evidence is. The result is always in
// (0, 1].
func ruleConfidence(evidence []observed, merchantTotal int, now time.Time) float64 {
	consistency := 1.0
	if merchantTotal > len(evidence) {
		consistency = float64(len(evidence)) / float64(merchantTotal)
	}

	var newest time.Time
	for _, o := range evidence {
		if o.receivedAt.After(newest) {
			newest = o.receivedAt
		}
	}
	age := now.Sub(newest)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-float64(age) / float64(correctionRetention))

	confidence := 0.6*consistency + 0.4*recency
	if confidence <= 0 {
		confidence = 0.01
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
