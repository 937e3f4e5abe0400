package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cardamom-hq/cardamom/internal/bayes"
	"github.com/cardamom-hq/cardamom/internal/cache"
	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/complexity"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/similarity"
)

// cacheLayer answers from the fingerprint cache. A fresh hit is always
// accepted: every entry's TTL scales with its confidence, so a
// low-confidence fallback that got cached expires within the hour while a
// near-certain result stays for weeks.
type cacheLayer struct {
	cache  *cache.ResultCache
	logger *slog.Logger
}

func (l *cacheLayer) Name() string { return "cache" }

func (l *cacheLayer) Attempt(ctx context.Context, req *Request) (*Candidate, error) {
	entry, ok := l.cache.Get(ctx, req.Fingerprint)
	if !ok {
		return nil, nil
	}

	l.logger.Debug("cache hit",
		"transaction_id", req.Transaction.ID,
		"fingerprint", req.Fingerprint,
		"category_id", entry.CategoryID)

	return &Candidate{
		Route:      model.RouteCache,
		CategoryID: entry.CategoryID,
		Confidence: entry.Confidence,
		Reasoning:  "cached result for identical transaction fingerprint",
	}, nil
}

// similarityLayer votes over the nearest labeled embeddings. It refuses to
// vote on high-ambiguity merchants, where neighbor consensus is likely
// false.
type similarityLayer struct {
	index        *similarity.Index
	embedder     feature.Embedder
	logger       *slog.Logger
	threshold    float64
	k            int
	minNeighbors int
}

func (l *similarityLayer) Name() string { return "similarity" }

func (l *similarityLayer) Attempt(ctx context.Context, req *Request) (*Candidate, error) {
	if l.embedder == nil {
		return nil, nil
	}
	if req.Complexity.Factors.MerchantAmbiguity > complexity.HighAmbiguityCutoff {
		l.logger.Debug("similarity skipped for ambiguous merchant",
			"transaction_id", req.Transaction.ID,
			"merchant_ambiguity", req.Complexity.Factors.MerchantAmbiguity)
		return nil, nil
	}

	vector, err := l.embedder.Embed(ctx, feature.EmbeddingText(req.Transaction))
	if err != nil {
		// Embedding failures degrade to the next layer, never fail the request.
		l.logger.Warn("embedding failed", "transaction_id", req.Transaction.ID, "error", err)
		return nil, nil
	}

	vote, ok := l.index.FindSimilar(vector, l.k, l.minNeighbors)
	if !ok || vote.Confidence < l.threshold {
		return nil, nil
	}

	return &Candidate{
		Route:      model.RouteSimilarity,
		CategoryID: vote.CategoryID,
		Confidence: vote.Confidence,
		Reasoning: fmt.Sprintf("%d of %d nearest labeled transactions agree",
			int(vote.Agreement*float64(vote.Neighbors)+0.5), vote.Neighbors),
	}, nil
}

// statisticalLayer predicts with the active Naive Bayes model. Its result
// is kept as the local fallback even below threshold, so a denied or
// failed remote call still resolves locally.
type statisticalLayer struct {
	classifier *bayes.Classifier
	logger     *slog.Logger
	threshold  float64
}

func (l *statisticalLayer) Name() string { return "statistical" }

func (l *statisticalLayer) Attempt(_ context.Context, req *Request) (*Candidate, error) {
	prediction, err := l.classifier.Predict(req.Features)
	if err != nil {
		if errors.Is(err, common.ErrModelUnavailable) {
			// No trained model yet; fall through.
			return nil, nil
		}
		return nil, err
	}

	candidate := &Candidate{
		Route:      model.RouteStatistical,
		CategoryID: prediction.CategoryID,
		Confidence: prediction.Confidence,
		Reasoning: fmt.Sprintf("statistical classifier, margin %.2f over runner-up",
			prediction.Margin),
	}
	req.noteFallback(candidate)

	if prediction.Confidence < l.threshold {
		return nil, nil
	}
	return candidate, nil
}
