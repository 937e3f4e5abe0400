package model

import "time"

// CorrectionRule is a learned from->to category remapping, synthesized when
// the same misclassification recurs for similar transactions. Rules expire
// automatically and are consulted before any paid remote call.
type CorrectionRule struct {
	CreatedAt       time.Time
	ExpiresAt       time.Time
	MerchantPattern string // normalized merchant this rule triggers on
	FromCategoryID  int
	ToCategoryID    int
	ID              int64
	Confidence      float64
	UseCount        int
	IsActive        bool
}

// Expired reports whether the rule is past its expiry at the given time.
func (r *CorrectionRule) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Matches reports whether the rule triggers for the given normalized
// merchant and predicted category.
func (r *CorrectionRule) Matches(normalizedMerchant string, predictedCategoryID int) bool {
	if !r.IsActive {
		return false
	}
	return r.MerchantPattern == normalizedMerchant && r.FromCategoryID == predictedCategoryID
}
