package bayes

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/feature"
)

// Classifier serves predictions from the currently active model version and
// publishes replacements atomically. Readers always see one fully built
// model; writers build a complete new version off to the side and swap a
// single pointer.
type Classifier struct {
	active  atomic.Pointer[Model]
	logger  *slog.Logger
	trainMu sync.Mutex // serializes training and incremental updates
}

// NewClassifier creates a classifier with no active model. Predict returns
// ErrModelUnavailable until a model is published.
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// Active returns the currently published model, or nil.
func (c *Classifier) Active() *Model {
	return c.active.Load()
}

// Publish atomically swaps in a fully built model version.
func (c *Classifier) Publish(m *Model) {
	m.Version = c.nextVersion()
	c.active.Store(m)
	c.logger.Info("classifier model published",
		"version", m.Version,
		"classes", len(m.ClassCounts),
		"vocabulary", len(m.Vocabulary),
		"samples", m.TotalSamples)
}

func (c *Classifier) nextVersion() int {
	if current := c.active.Load(); current != nil {
		return current.Version + 1
	}
	return 1
}

// Predict classifies a feature map with the active model.
func (c *Classifier) Predict(features feature.Map) (Prediction, error) {
	m := c.active.Load()
	if m == nil || m.TotalSamples == 0 {
		return Prediction{}, common.ErrModelUnavailable
	}
	return m.Predict(features), nil
}

// Learn folds one corrected sample into the classifier. The active model is
// cloned, updated, re-finalized, and republished; in-flight predictions keep
// using the previous version until the swap.
func (c *Classifier) Learn(sample Sample) error {
	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	current := c.active.Load()
	if current == nil {
		return common.ErrModelUnavailable
	}

	next := current.clone()
	next.observe(sample)
	next.finalize()
	next.Version = current.Version + 1
	c.active.Store(next)

	c.logger.Debug("classifier updated incrementally",
		"version", next.Version,
		"category_id", sample.CategoryID,
		"samples", next.TotalSamples)

	return nil
}

// TrainAndEvaluate runs the α grid search, trains a candidate on the full
// sample set with the winning α, and returns it with held-out metrics. The
// candidate replaces the active model only when its F1 beats the recorded
// F1 of the current version.
func (c *Classifier) TrainAndEvaluate(samples []Sample, alphas []float64, folds int) (*Model, bool) {
	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	result := CrossValidate(samples, alphas, folds)

	candidate := Train(samples, result.Alpha)
	candidate.Metrics = Metrics{Accuracy: result.Accuracy, F1: result.F1}

	current := c.active.Load()
	if current != nil && candidate.Metrics.F1 <= current.Metrics.F1 {
		c.logger.Info("candidate model rejected",
			"candidate_f1", candidate.Metrics.F1,
			"active_f1", current.Metrics.F1)
		return candidate, false
	}

	candidate.Version = 1
	if current != nil {
		candidate.Version = current.Version + 1
	}
	c.active.Store(candidate)

	c.logger.Info("classifier model trained and activated",
		"version", candidate.Version,
		"alpha", result.Alpha,
		"accuracy", candidate.Metrics.Accuracy,
		"f1", candidate.Metrics.F1,
		"samples", len(samples))

	return candidate, true
}
