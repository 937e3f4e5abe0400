package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSimilarRequiresMinimumPopulation(t *testing.T) {
	idx := NewIndex(nil)
	idx.Add([]float32{1, 0}, 1)
	idx.Add([]float32{0, 1}, 2)

	_, ok := idx.FindSimilar([]float32{1, 0}, 5, 3)
	assert.False(t, ok)

	idx.Add([]float32{1, 0.1}, 1)
	_, ok = idx.FindSimilar([]float32{1, 0}, 5, 3)
	assert.True(t, ok)
}

func TestFindSimilarMajorityVote(t *testing.T) {
	idx := NewIndex(nil)
	// Three near-identical groceries, one orthogonal outlier.
	idx.Add([]float32{1, 0, 0}, 1)
	idx.Add([]float32{0.99, 0.1, 0}, 1)
	idx.Add([]float32{0.98, 0.05, 0.05}, 1)
	idx.Add([]float32{0, 1, 0}, 2)

	vote, ok := idx.FindSimilar([]float32{1, 0, 0}, 4, 3)
	require.True(t, ok)

	assert.Equal(t, 1, vote.CategoryID)
	assert.Equal(t, 4, vote.Neighbors)
	assert.InDelta(t, 0.75, vote.Agreement, 1e-9)
	assert.Greater(t, vote.MeanSimilarity, 0.95)
}

func TestFindSimilarConfidenceCombinesAgreementAndSimilarity(t *testing.T) {
	unanimous := NewIndex(nil)
	split := NewIndex(nil)
	for i := 0; i < 4; i++ {
		unanimous.Add([]float32{1, 0}, 1)
	}
	split.Add([]float32{1, 0}, 1)
	split.Add([]float32{1, 0.01}, 1)
	split.Add([]float32{0.99, 0}, 2)
	split.Add([]float32{1, 0.02}, 2)

	strong, ok := unanimous.FindSimilar([]float32{1, 0}, 4, 3)
	require.True(t, ok)
	weak, ok := split.FindSimilar([]float32{1, 0}, 4, 3)
	require.True(t, ok)

	assert.Greater(t, strong.Confidence, weak.Confidence)
	assert.LessOrEqual(t, strong.Confidence, 1.0)
}

func TestFindSimilarTieBreaksTowardLowestCategory(t *testing.T) {
	idx := NewIndex(nil)
	idx.Add([]float32{1, 0}, 7)
	idx.Add([]float32{1, 0}, 7)
	idx.Add([]float32{1, 0}, 2)
	idx.Add([]float32{1, 0}, 2)

	vote, ok := idx.FindSimilar([]float32{1, 0}, 4, 3)
	require.True(t, ok)
	assert.Equal(t, 2, vote.CategoryID)
}

func TestSquashIsMonotonic(t *testing.T) {
	previous := -1.0
	for _, sim := range []float64{0, 0.25, 0.5, 0.7, 0.75, 0.8, 0.9, 1.0} {
		s := squash(sim)
		assert.Greater(t, s, previous, "squash(%.2f)", sim)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		previous = s
	}

	// The midpoint maps to 0.5.
	assert.InDelta(t, 0.5, squash(squashMidpoint), 1e-9)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Mismatched or zero inputs score zero instead of panicking.
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
