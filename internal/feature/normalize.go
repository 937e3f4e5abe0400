// Package feature converts transactions into the normalized text, feature
// maps, and fingerprints the classification layers consume.
package feature

import (
	"strings"
	"unicode"
)

// NormalizeMerchant lowercases a merchant name and strips store numbers,
// punctuation, and trailing location noise so that variants of the same
// merchant collapse to one key.
func NormalizeMerchant(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '*' || r == '#' || r == '.':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
		// Digits are dropped entirely: store numbers and trailing
		// reference IDs are merchant noise, not identity.
	}

	return strings.TrimSpace(b.String())
}

// NormalizeText lowercases free text and collapses runs of whitespace and
// punctuation into single spaces, keeping digits.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text into word tokens, dropping single
// characters and pure numbers.
func Tokenize(text string) []string {
	parts := strings.Fields(NormalizeText(text))
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) < 2 || isNumeric(p) {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
