package remote

import (
	"regexp"
	"strings"

	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/model"
)

// No raw PII leaves this boundary: card numbers, emails, phone numbers,
// and account-like digit runs are stripped before any prompt is built.
var (
	cardNumberRe = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	emailRe      = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe      = regexp.MustCompile(`\+?\d{1,3}[ .-]?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}`)
	longDigitsRe = regexp.MustCompile(`\d{9,}`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// merchantTokenLimit bounds how many leading merchant tokens survive
// anonymization.
const merchantTokenLimit = 3

// amountGranularityCents is the rounding step applied to amounts before
// they appear in a prompt.
const amountGranularityCents = 1000

// AnonymizedRecord is the sanitized view of a transaction that may appear
// in an outbound request.
type AnonymizedRecord struct {
	Merchant    string
	Description string
	Currency    string
	Weekday     string
	AmountCents int64
}

// Anonymize builds the sanitized representation of a transaction.
func Anonymize(txn model.Transaction) AnonymizedRecord {
	merchant := feature.NormalizeMerchant(txn.MerchantName)
	tokens := strings.Fields(merchant)
	if len(tokens) > merchantTokenLimit {
		tokens = tokens[:merchantTokenLimit]
	}

	return AnonymizedRecord{
		Merchant:    strings.Join(tokens, " "),
		Description: scrub(txn.Description),
		AmountCents: roundAmount(txn.AmountCents),
		Currency:    txn.Currency,
		Weekday:     txn.Date.Weekday().String(),
	}
}

// scrub removes PII-shaped substrings from free text.
func scrub(text string) string {
	text = cardNumberRe.ReplaceAllString(text, " ")
	text = emailRe.ReplaceAllString(text, " ")
	text = phoneRe.ReplaceAllString(text, " ")
	text = longDigitsRe.ReplaceAllString(text, " ")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// roundAmount coarsens the amount to the configured granularity,
// preserving sign.
func roundAmount(cents int64) int64 {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	rounded := (cents + amountGranularityCents/2) / amountGranularityCents * amountGranularityCents
	if neg {
		return -rounded
	}
	return rounded
}
