// Package similarity answers classification lookups by majority vote over
// the nearest previously labeled transaction embeddings.
package similarity

import (
	"log/slog"
	"math"
	"sort"
	"sync"
)

// Logistic squash parameters mapping raw cosine similarity to a stable
// confidence scale.
const (
	squashMidpoint  = 0.75
	squashSteepness = 10.0
)

// Entry is one labeled embedding in the index.
type Entry struct {
	Vector     []float32
	CategoryID int
}

// Vote is the majority-vote outcome for a neighborhood lookup.
type Vote struct {
	CategoryID     int
	Neighbors      int
	Agreement      float64 // fraction of neighbors voting for the winner
	MeanSimilarity float64 // mean cosine similarity of the agreeing neighbors
	Confidence     float64
}

// Index is an in-memory store of labeled embeddings. Reads and writes may
// run concurrently; lookups see a consistent snapshot.
type Index struct {
	logger  *slog.Logger
	entries []Entry
	mu      sync.RWMutex
}

// NewIndex creates an empty embedding index.
func NewIndex(logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{logger: logger}
}

// Add inserts a labeled embedding.
func (i *Index) Add(vector []float32, categoryID int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries = append(i.entries, Entry{Vector: vector, CategoryID: categoryID})
}

// Len returns the number of labeled embeddings in the index.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

type scored struct {
	similarity float64
	categoryID int
}

// FindSimilar retrieves the k nearest labeled embeddings by cosine
// similarity and votes. It returns false when fewer than minNeighbors
// labeled embeddings exist, forcing fallthrough to the next layer.
func (i *Index) FindSimilar(vector []float32, k, minNeighbors int) (Vote, bool) {
	if k <= 0 {
		k = 5
	}
	if minNeighbors <= 0 {
		minNeighbors = 3
	}

	i.mu.RLock()
	neighbors := make([]scored, 0, len(i.entries))
	for _, e := range i.entries {
		neighbors = append(neighbors, scored{
			similarity: cosineSimilarity(vector, e.Vector),
			categoryID: e.CategoryID,
		})
	}
	i.mu.RUnlock()

	if len(neighbors) < minNeighbors {
		return Vote{}, false
	}

	sort.Slice(neighbors, func(a, b int) bool {
		return neighbors[a].similarity > neighbors[b].similarity
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}

	// Majority vote; ties break toward the lowest category ID.
	counts := make(map[int]int)
	for _, n := range neighbors {
		counts[n.categoryID]++
	}
	winner, winnerCount := -1, 0
	for id, count := range counts {
		if count > winnerCount || (count == winnerCount && id < winner) {
			winner, winnerCount = id, count
		}
	}

	var simSum float64
	for _, n := range neighbors {
		if n.categoryID == winner {
			simSum += n.similarity
		}
	}

	agreement := float64(winnerCount) / float64(len(neighbors))
	meanSim := simSum / float64(winnerCount)

	vote := Vote{
		CategoryID:     winner,
		Neighbors:      len(neighbors),
		Agreement:      agreement,
		MeanSimilarity: meanSim,
		Confidence:     agreement * squash(meanSim),
	}

	i.logger.Debug("similarity vote",
		"category_id", vote.CategoryID,
		"neighbors", vote.Neighbors,
		"agreement", vote.Agreement,
		"mean_similarity", vote.MeanSimilarity,
		"confidence", vote.Confidence)

	return vote, true
}

// squash maps raw cosine similarity onto a monotonic logistic curve so
// downstream thresholds stay stable across embedding models.
func squash(similarity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-squashSteepness*(similarity-squashMidpoint)))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
