package feature

import (
	"crypto/sha256"
	"fmt"

	"github.com/cardamom-hq/cardamom/internal/model"
)

// descriptionPrefixLen bounds how much of the normalized description feeds
// the fingerprint. Longer suffixes carry per-transaction reference noise.
const descriptionPrefixLen = 32

// Fingerprint creates a stable cache key for a transaction from its
// normalized merchant, amount in minor units, and description prefix.
func Fingerprint(txn model.Transaction) string {
	desc := NormalizeText(txn.Description)
	if len(desc) > descriptionPrefixLen {
		desc = desc[:descriptionPrefixLen]
	}

	data := fmt.Sprintf("%s|%d|%s",
		NormalizeMerchant(txn.MerchantName),
		txn.AmountCents,
		desc)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
