package engine

import (
	"context"

	"github.com/cardamom-hq/cardamom/internal/complexity"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/remote"
)

// RemoteClassifier is the paid layer as the router consumes it.
// *remote.Classifier is the production implementation.
type RemoteClassifier interface {
	Classify(ctx context.Context, txn model.Transaction, categories []model.Category, complexityScore float64) (remote.Result, error)
	EstimateCostCents(txn model.Transaction, categories []model.Category, complexityScore float64) int64
	Close() error
}

// Candidate is one layer's proposed classification.
type Candidate struct {
	Reasoning  string
	Route      model.Route
	CategoryID int
	Confidence float64
	CostCents  int64
}

// Request carries one transaction through the cascade. Layers read it and
// may stash their best sub-threshold result as the local fallback.
type Request struct {
	Transaction        model.Transaction
	Features           feature.Map
	Fingerprint        string
	NormalizedMerchant string
	Categories         []model.Category
	Complexity         complexity.Score

	// fallback is the best local result seen so far, kept even when it
	// missed its layer's threshold so the router can degrade instead of
	// fail.
	fallback *Candidate
}

// noteFallback keeps the highest-confidence local candidate.
func (r *Request) noteFallback(c *Candidate) {
	if c == nil {
		return
	}
	if r.fallback == nil || c.Confidence > r.fallback.Confidence {
		r.fallback = c
	}
}

// Layer is one stage of the classification cascade. Attempt returns
// (nil, nil) when the layer has no sufficiently confident answer; that is
// a normal outcome, not an error.
type Layer interface {
	Name() string
	Attempt(ctx context.Context, req *Request) (*Candidate, error)
}
