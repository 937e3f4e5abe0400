package feature

import (
	"context"

	"github.com/cardamom-hq/cardamom/internal/model"
)

// Embedder converts text into a fixed-length dense vector. The embedding
// model itself is supplied by the surrounding application; this engine only
// consumes it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// EmbeddingText produces the canonical text representation of a transaction
// for embedding, so lookups and stored vectors agree on the input.
func EmbeddingText(txn model.Transaction) string {
	merchant := NormalizeMerchant(txn.MerchantName)
	desc := NormalizeText(txn.Description)
	if desc == "" {
		return merchant
	}
	if merchant == "" {
		return desc
	}
	return merchant + " " + desc
}
