// Package bayes implements the multinomial Laplace-smoothed Naive Bayes
// classifier that serves as the engine's local statistical layer.
package bayes

import (
	"math"
	"sort"
	"time"

	"github.com/cardamom-hq/cardamom/internal/feature"
)

// Sample is one labeled training example.
type Sample struct {
	Features   feature.Map
	CategoryID int
}

// Metrics holds the held-out evaluation recorded when a model was trained.
type Metrics struct {
	Accuracy float64 `json:"accuracy"`
	F1       float64 `json:"f1"`
}

// Model is one immutable, versioned parameter bundle. A model is fully
// built before it is published; prediction never observes a partial write.
type Model struct {
	TrainedAt    time.Time
	FeatureSums  map[int]map[string]float64 // per-class feature-value sums
	ClassTotals  map[int]float64            // total feature mass per class
	ClassCounts  map[int]int                // labeled samples per class
	Vocabulary   map[string]struct{}
	Alpha        float64
	TotalSamples int
	Version      int
	Metrics      Metrics

	// Derived log-space tables, built once by finalize.
	classes        []int
	logPriors      map[int]float64
	logLikelihoods map[int]map[string]float64
	logUnseen      map[int]float64 // likelihood for a vocab feature with zero mass in the class
}

// NewModel creates an empty model with the given smoothing parameter.
func NewModel(alpha float64) *Model {
	return &Model{
		Alpha:       alpha,
		FeatureSums: make(map[int]map[string]float64),
		ClassTotals: make(map[int]float64),
		ClassCounts: make(map[int]int),
		Vocabulary:  make(map[string]struct{}),
	}
}

// observe accumulates one labeled sample into the running counts.
func (m *Model) observe(s Sample) {
	sums, ok := m.FeatureSums[s.CategoryID]
	if !ok {
		sums = make(map[string]float64)
		m.FeatureSums[s.CategoryID] = sums
	}

	for key, value := range s.Features {
		if value <= 0 {
			continue
		}
		sums[key] += value
		m.ClassTotals[s.CategoryID] += value
		m.Vocabulary[key] = struct{}{}
	}

	m.ClassCounts[s.CategoryID]++
	m.TotalSamples++
}

// finalize recomputes the derived log-space tables from the running counts.
// Must be called before Predict after any count mutation.
func (m *Model) finalize() {
	m.classes = make([]int, 0, len(m.ClassCounts))
	for id := range m.ClassCounts {
		m.classes = append(m.classes, id)
	}
	sort.Ints(m.classes)

	vocabSize := float64(len(m.Vocabulary))
	m.logPriors = make(map[int]float64, len(m.classes))
	m.logLikelihoods = make(map[int]map[string]float64, len(m.classes))
	m.logUnseen = make(map[int]float64, len(m.classes))

	for _, id := range m.classes {
		m.logPriors[id] = math.Log(float64(m.ClassCounts[id]) / float64(m.TotalSamples))

		denom := m.ClassTotals[id] + m.Alpha*vocabSize
		m.logUnseen[id] = math.Log(m.Alpha / denom)

		likelihoods := make(map[string]float64, len(m.FeatureSums[id]))
		for key, count := range m.FeatureSums[id] {
			likelihoods[key] = math.Log((count + m.Alpha) / denom)
		}
		m.logLikelihoods[id] = likelihoods
	}
}

// Train builds a finalized model from a full set of labeled samples.
func Train(samples []Sample, alpha float64) *Model {
	m := NewModel(alpha)
	for _, s := range samples {
		m.observe(s)
	}
	m.TrainedAt = time.Now()
	m.finalize()
	return m
}

// clone deep-copies the running counts so an updated version can be built
// off to the side while the original keeps serving predictions.
func (m *Model) clone() *Model {
	c := NewModel(m.Alpha)
	c.TotalSamples = m.TotalSamples
	c.Version = m.Version
	c.TrainedAt = m.TrainedAt
	c.Metrics = m.Metrics

	for id, count := range m.ClassCounts {
		c.ClassCounts[id] = count
	}
	for id, total := range m.ClassTotals {
		c.ClassTotals[id] = total
	}
	for id, sums := range m.FeatureSums {
		copied := make(map[string]float64, len(sums))
		for k, v := range sums {
			copied[k] = v
		}
		c.FeatureSums[id] = copied
	}
	for key := range m.Vocabulary {
		c.Vocabulary[key] = struct{}{}
	}

	return c
}

// Prediction is the statistical layer's answer for one feature map.
type Prediction struct {
	Probabilities map[int]float64
	CategoryID    int
	Confidence    float64 // probability of the winning class
	Margin        float64 // gap between the top-2 probabilities
}

// Predict scores the feature map against every class and returns the
// argmax winner with its softmax probability distribution. Features absent
// from the vocabulary are ignored; ties break toward the lowest class ID.
func (m *Model) Predict(features feature.Map) Prediction {
	scores := make(map[int]float64, len(m.classes))
	maxScore := math.Inf(-1)

	for _, id := range m.classes {
		score := m.logPriors[id]
		likelihoods := m.logLikelihoods[id]

		for key, value := range features {
			if value <= 0 {
				continue
			}
			if _, known := m.Vocabulary[key]; !known {
				continue
			}
			ll, ok := likelihoods[key]
			if !ok {
				ll = m.logUnseen[id]
			}
			score += ll * value
		}

		scores[id] = score
		if score > maxScore {
			maxScore = score
		}
	}

	// Softmax with max subtraction for numerical stability.
	var sum float64
	probs := make(map[int]float64, len(scores))
	for id, score := range scores {
		p := math.Exp(score - maxScore)
		probs[id] = p
		sum += p
	}
	for id := range probs {
		probs[id] /= sum
	}

	winner := m.classes[0]
	best, second := math.Inf(-1), math.Inf(-1)
	for _, id := range m.classes {
		p := probs[id]
		switch {
		case p > best:
			second = best
			best = p
			winner = id
		case p > second:
			second = p
		}
	}
	if second == math.Inf(-1) {
		second = 0
	}

	return Prediction{
		CategoryID:    winner,
		Confidence:    best,
		Margin:        best - second,
		Probabilities: probs,
	}
}

// Classes returns the sorted class IDs the model knows about.
func (m *Model) Classes() []int {
	return m.classes
}
