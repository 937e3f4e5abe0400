// Package engine orchestrates the layered classification cascade: cache,
// similarity, statistical, then the budget-gated remote layer, in
// increasing cost order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cardamom-hq/cardamom/internal/bayes"
	"github.com/cardamom-hq/cardamom/internal/budget"
	"github.com/cardamom-hq/cardamom/internal/cache"
	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/complexity"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/learning"
	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/service"
	"github.com/cardamom-hq/cardamom/internal/similarity"
)

// Engine is the classification facade: one synchronous entry point, an
// asynchronous correction intake, and a read-only usage report.
type Engine struct {
	storage    service.Storage
	cache      *cache.ResultCache
	index      *similarity.Index
	classifier *bayes.Classifier
	remote     RemoteClassifier
	guard      *budget.Guard
	history    *History
	analyzer   *complexity.Analyzer
	pipeline   *learning.Pipeline
	logger     *slog.Logger
	layers     []Layer
	categories []model.Category
	config     Config
}

// Options bundles the engine's collaborators.
type Options struct {
	Storage    service.Storage
	Cache      *cache.ResultCache
	Index      *similarity.Index
	Classifier *bayes.Classifier
	Remote     RemoteClassifier // nil disables the remote layer
	Guard      *budget.Guard
	Embedder   feature.Embedder // nil disables the similarity layer
	Pipeline   *learning.Pipeline
	Logger     *slog.Logger
	Categories []model.Category
	Config     Config
}

// New wires up the engine and its cascade.
func New(opts Options) (*Engine, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("%w: storage is required", common.ErrInvalidConfig)
	}
	if opts.Classifier == nil {
		return nil, fmt.Errorf("%w: classifier is required", common.ErrInvalidConfig)
	}
	if len(opts.Categories) == 0 {
		return nil, fmt.Errorf("%w: category catalog is required", common.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg := opts.Config.withDefaults()

	e := &Engine{
		storage:    opts.Storage,
		cache:      opts.Cache,
		index:      opts.Index,
		classifier: opts.Classifier,
		remote:     opts.Remote,
		guard:      opts.Guard,
		analyzer:   complexity.NewAnalyzer(),
		pipeline:   opts.Pipeline,
		logger:     opts.Logger,
		categories: opts.Categories,
		config:     cfg,
	}

	e.history = NewHistory(opts.Storage, opts.Classifier, cfg.HistoryWindow, cfg.HistoryRefreshInterval, opts.Logger)

	if opts.Cache != nil {
		e.layers = append(e.layers, &cacheLayer{cache: opts.Cache, logger: opts.Logger})
	}
	if opts.Index != nil && opts.Embedder != nil {
		e.layers = append(e.layers, &similarityLayer{
			index:        opts.Index,
			embedder:     opts.Embedder,
			logger:       opts.Logger,
			threshold:    cfg.Thresholds.Similarity,
			k:            cfg.SimilarityK,
			minNeighbors: cfg.SimilarityMinNeighbors,
		})
	}
	e.layers = append(e.layers, &statisticalLayer{
		classifier: opts.Classifier,
		logger:     opts.Logger,
		threshold:  cfg.Thresholds.Statistical,
	})

	return e, nil
}

// Classify runs one transaction through the cascade and records exactly
// one decision. For a well-formed transaction it never returns an error:
// layers degrade to cheaper fallbacks, and total exhaustion yields an
// unresolved result with confidence 0.
func (e *Engine) Classify(ctx context.Context, txn model.Transaction) (model.Result, error) {
	if err := txn.Validate(); err != nil {
		return model.Result{}, err
	}

	start := time.Now()
	snapshot := e.history.Snapshot(ctx)

	req := &Request{
		Transaction:        txn,
		Features:           feature.Extract(txn),
		Fingerprint:        feature.Fingerprint(txn),
		NormalizedMerchant: feature.NormalizeMerchant(txn.MerchantName),
		Categories:         e.categories,
	}
	req.Complexity = e.analyzer.Analyze(txn, req.Features, snapshot)

	e.history.ObserveAmount(txn.AmountCents)

	accepted := e.runCascade(ctx, req, snapshot)

	if accepted == nil {
		accepted = &Candidate{
			Route:      model.RouteUnresolved,
			CategoryID: 0,
			Confidence: 0,
			Reasoning:  "no layer produced a confident classification",
		}
	}

	latency := time.Since(start)
	e.recordDecision(ctx, req, accepted, latency)

	if e.cache != nil && accepted.Route != model.RouteCache && accepted.Route != model.RouteUnresolved {
		e.cache.Put(ctx, model.CachedResult{
			Fingerprint: req.Fingerprint,
			CategoryID:  accepted.CategoryID,
			Confidence:  accepted.Confidence,
			Route:       accepted.Route,
		})
	}

	e.logger.Info("transaction classified",
		"transaction_id", txn.ID,
		"route", accepted.Route,
		"category_id", accepted.CategoryID,
		"confidence", accepted.Confidence,
		"complexity", req.Complexity.Score,
		"cost_cents", accepted.CostCents,
		"latency", latency)

	return model.Result{
		CategoryID: accepted.CategoryID,
		Confidence: accepted.Confidence,
		Route:      accepted.Route,
		CostCents:  accepted.CostCents,
		Reasoning:  accepted.Reasoning,
	}, nil
}

// runCascade tries each local layer in cost order, then the gated remote
// layer, and finally the best local fallback.
func (e *Engine) runCascade(ctx context.Context, req *Request, snapshot *Snapshot) *Candidate {
	for _, layer := range e.layers {
		candidate, err := layer.Attempt(ctx, req)
		if err != nil {
			e.logger.Warn("layer failed, degrading to next",
				"layer", layer.Name(),
				"transaction_id", req.Transaction.ID,
				"error", err)
			continue
		}
		if candidate != nil {
			return candidate
		}
	}

	// A learned correction rule can resolve the request before any paid
	// call is considered.
	if req.fallback != nil {
		if rule := snapshot.RuleFor(req.NormalizedMerchant, req.fallback.CategoryID); rule != nil {
			if err := e.storage.IncrementRuleUseCount(ctx, rule.ID); err != nil {
				e.logger.Warn("failed to bump rule use count", "rule_id", rule.ID, "error", err)
			}
			return &Candidate{
				Route:      model.RouteStatistical,
				CategoryID: rule.ToCategoryID,
				Confidence: rule.Confidence,
				Reasoning:  "learned correction rule remapped the statistical prediction",
			}
		}
	}

	if candidate := e.tryRemote(ctx, req); candidate != nil {
		return candidate
	}

	return req.fallback
}

// tryRemote applies the admission policy and calls the paid layer. Any
// remote failure or a result no better than the local fallback degrades to
// the fallback; nothing here surfaces to the caller.
func (e *Engine) tryRemote(ctx context.Context, req *Request) *Candidate {
	if e.remote == nil {
		return nil
	}
	if e.guard != nil {
		if err := e.guard.Admit(ctx); err != nil {
			e.logger.Debug("remote layer skipped",
				"transaction_id", req.Transaction.ID,
				"reason", err)
			return nil
		}
	}
	if !e.remoteWorthwhile(req) {
		e.logger.Debug("remote layer skipped: not worth the cost",
			"transaction_id", req.Transaction.ID,
			"complexity", req.Complexity.Score)
		return nil
	}

	result, err := e.remote.Classify(ctx, req.Transaction, req.Categories, req.Complexity.Score)
	if err != nil {
		if errors.Is(err, common.ErrRemoteTimeout) || errors.Is(err, common.ErrRemoteParse) {
			e.logger.Warn("remote classification failed, using local fallback",
				"transaction_id", req.Transaction.ID,
				"error", err)
			return nil
		}
		e.logger.Error("remote classification error",
			"transaction_id", req.Transaction.ID,
			"error", err)
		return nil
	}

	// A remote answer that is no more confident than the local result is
	// discarded; its cost has already been tracked.
	if req.fallback != nil && result.Confidence <= req.fallback.Confidence {
		e.logger.Debug("remote result discarded: local result at least as confident",
			"transaction_id", req.Transaction.ID,
			"remote_confidence", result.Confidence,
			"local_confidence", req.fallback.Confidence)
		fallback := *req.fallback
		fallback.CostCents += result.CostCents
		req.fallback = &fallback
		return nil
	}

	return &Candidate{
		Route:      model.RouteRemote,
		CategoryID: result.CategoryID,
		Confidence: result.Confidence,
		CostCents:  result.CostCents,
		Reasoning:  result.Reasoning,
	}
}

// remoteWorthwhile is the value check: the transaction's stake must exceed
// the weighted estimated cost, or complexity must be high on a high-value
// amount.
func (e *Engine) remoteWorthwhile(req *Request) bool {
	estimate := e.remote.EstimateCostCents(req.Transaction, req.Categories, req.Complexity.Score)

	value := float64(req.Transaction.AmountCents)
	if value < 0 {
		value = -value
	}

	if value > float64(estimate)*e.config.RemoteCostWeighting {
		return true
	}
	return req.Complexity.Score > e.config.RemoteComplexityCutoff &&
		req.Transaction.AmountCents >= e.config.RemoteHighValueCents
}

// recordDecision writes the single decision record for this request. A
// storage failure is logged, not surfaced: the caller still gets a result.
func (e *Engine) recordDecision(ctx context.Context, req *Request, accepted *Candidate, latency time.Duration) {
	decision := &model.Decision{
		ID:              uuid.NewString(),
		TransactionID:   req.Transaction.ID,
		MerchantName:    req.NormalizedMerchant,
		Route:           accepted.Route,
		CategoryID:      accepted.CategoryID,
		ComplexityScore: req.Complexity.Score,
		Confidence:      accepted.Confidence,
		CostCents:       accepted.CostCents,
		Latency:         latency,
		Reasoning:       accepted.Reasoning,
		CreatedAt:       time.Now(),
	}

	if err := e.storage.SaveDecision(ctx, decision); err != nil {
		e.logger.Error("failed to record decision",
			"transaction_id", req.Transaction.ID,
			"error", err)
	}
}

// SubmitCorrection hands a user correction to the learning pipeline. The
// call never blocks the request path; when the pipeline's queue is full
// the correction is dropped with a warning.
func (e *Engine) SubmitCorrection(txn model.Transaction, predictedCategoryID, actualCategoryID int) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	if e.pipeline == nil {
		return fmt.Errorf("%w: learning pipeline not configured", common.ErrInvalidConfig)
	}

	if !e.pipeline.Enqueue(learning.Correction{
		Transaction:         txn,
		PredictedCategoryID: predictedCategoryID,
		ActualCategoryID:    actualCategoryID,
		ReceivedAt:          time.Now(),
	}) {
		e.logger.Warn("correction dropped: learning queue full",
			"transaction_id", txn.ID)
	}
	return nil
}

// UsageReport returns the budget ledger snapshot for dashboards.
func (e *Engine) UsageReport(ctx context.Context) budget.Usage {
	if e.guard == nil {
		return budget.Usage{}
	}
	return e.guard.UsageReport(ctx)
}

// Close releases background resources.
func (e *Engine) Close() error {
	if e.pipeline != nil {
		e.pipeline.Close()
	}
	if e.cache != nil {
		e.cache.Close()
	}
	if e.remote != nil {
		_ = e.remote.Close()
	}
	return nil
}
