// Package model defines the core domain models used throughout the application.
package model

import "time"

// Transaction represents a single financial transaction from any source.
// It is an immutable input to the categorization engine; the surrounding
// ledger application owns its persistence.
type Transaction struct {
	Date         time.Time
	ID           string
	MerchantName string
	Description  string // Raw transaction description
	Currency     string
	BankName     string
	AmountCents  int64 // Amount in minor units
}

// Amount returns the transaction amount in major units.
func (t *Transaction) Amount() float64 {
	return float64(t.AmountCents) / 100.0
}

// Validate checks that the required fields are present.
func (t *Transaction) Validate() error {
	switch {
	case t.ID == "":
		return errMissingField("id")
	case t.MerchantName == "" && t.Description == "":
		return errMissingField("merchant_name or description")
	case t.Date.IsZero():
		return errMissingField("transaction_date")
	}
	return nil
}
