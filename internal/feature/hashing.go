package feature

import (
	"context"
	"hash/fnv"
	"math"
)

// defaultHashingDimensions keeps vectors small enough for brute-force
// cosine search over tens of thousands of entries.
const defaultHashingDimensions = 256

// HashingEmbedder is a deterministic local Embedder using the hashing
// trick: each token is folded into a fixed-width bucket with a signed
// contribution, then the vector is L2-normalized. It needs no network and
// no model files, so the similarity tier works out of the box; a provider
// embedding model can replace it without touching anything else.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder creates a hashing embedder. A non-positive dimension
// falls back to the default.
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashingDimensions
	}
	return &HashingEmbedder{dimensions: dimensions}
}

// Dimensions returns the vector width.
func (e *HashingEmbedder) Dimensions() int { return e.dimensions }

// Embed hashes the text's tokens into a normalized dense vector. The same
// text always produces the same vector.
func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, e.dimensions)

	for _, token := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dimensions))
		if sum&(1<<63) != 0 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}

	return vector, nil
}
