package remote

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cardamom-hq/cardamom/internal/model"
)

func TestAnonymizeStripsPII(t *testing.T) {
	tests := []struct {
		name        string
		description string
		absent      []string
	}{
		{
			name:        "card number",
			description: "payment with card 4111 1111 1111 1111 thanks",
			absent:      []string{"4111", "1111"},
		},
		{
			name:        "email address",
			description: "receipt sent to jane.doe@example.com today",
			absent:      []string{"jane.doe", "example.com"},
		},
		{
			name:        "phone number",
			description: "call +1 (555) 123-4567 for support",
			absent:      []string{"555", "4567"},
		},
		{
			name:        "long account number",
			description: "transfer ref 987654321012 posted",
			absent:      []string{"987654321012"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := Anonymize(model.Transaction{
				ID:           "txn-1",
				Date:         time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
				MerchantName: "Some Store",
				Description:  tt.description,
				AmountCents:  1999,
				Currency:     "USD",
			})

			for _, fragment := range tt.absent {
				assert.NotContains(t, record.Description, fragment)
			}
		})
	}
}

func TestAnonymizeTruncatesMerchant(t *testing.T) {
	record := Anonymize(model.Transaction{
		MerchantName: "Very Long Merchant Name With Many Words",
		AmountCents:  1000,
	})

	assert.LessOrEqual(t, len(strings.Fields(record.Merchant)), merchantTokenLimit)
	assert.Equal(t, "very long merchant", record.Merchant)
}

func TestAnonymizeRoundsAmount(t *testing.T) {
	tests := []struct {
		cents int64
		want  int64
	}{
		{1999, 2000},
		{1499, 1000},
		{499, 0},
		{500, 1000},
		{-1999, -2000},
		{0, 0},
	}

	for _, tt := range tests {
		record := Anonymize(model.Transaction{MerchantName: "m", AmountCents: tt.cents})
		assert.Equal(t, tt.want, record.AmountCents, "cents %d", tt.cents)
	}
}

func TestAnonymizeKeepsNonPIIText(t *testing.T) {
	record := Anonymize(model.Transaction{
		MerchantName: "Blue Bottle",
		Description:  "coffee and a croissant",
		AmountCents:  850,
		Currency:     "USD",
		Date:         time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), // a Monday
	})

	assert.Equal(t, "coffee and a croissant", record.Description)
	assert.Equal(t, "Monday", record.Weekday)
	assert.Equal(t, "USD", record.Currency)
}
