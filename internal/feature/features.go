package feature

import (
	"fmt"

	"github.com/cardamom-hq/cardamom/internal/model"
)

// Map is a sparse feature vector keyed by feature name.
type Map map[string]float64

// Amount bucket boundaries in cents.
const (
	bucketMicroMax  = 500
	bucketSmallMax  = 2500
	bucketMediumMax = 10000
	bucketLargeMax  = 50000
)

// AmountBucket maps an amount in minor units to a coarse size bucket.
func AmountBucket(amountCents int64) string {
	if amountCents < 0 {
		amountCents = -amountCents
	}
	switch {
	case amountCents <= bucketMicroMax:
		return "micro"
	case amountCents <= bucketSmallMax:
		return "small"
	case amountCents <= bucketMediumMax:
		return "medium"
	case amountCents <= bucketLargeMax:
		return "large"
	default:
		return "xlarge"
	}
}

// Extract builds the feature map the statistical classifier consumes:
// word counts from the merchant name and description, the amount bucket,
// and the transaction weekday.
func Extract(txn model.Transaction) Map {
	features := make(Map)

	for _, tok := range Tokenize(txn.MerchantName) {
		features["word_"+tok]++
	}
	for _, tok := range Tokenize(txn.Description) {
		features["word_"+tok]++
	}

	features[fmt.Sprintf("amount_bucket_%s", AmountBucket(txn.AmountCents))] = 1

	if !txn.Date.IsZero() {
		features[fmt.Sprintf("weekday_%d", int(txn.Date.Weekday()))] = 1
	}

	if txn.BankName != "" {
		for _, tok := range Tokenize(txn.BankName) {
			features["bank_"+tok] = 1
		}
	}

	return features
}
