package remote

import (
	"fmt"
	"strconv"
	"strings"
)

// parseResponse extracts category, confidence, and reasoning from the
// provider's structured plain-text reply:
//
//	CATEGORY: <name>
//	CONFIDENCE: <0.0-1.0>
//	REASONING: <free text>
func parseResponse(content string) (Response, error) {
	var resp Response
	var sawCategory, sawConfidence bool

	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "CATEGORY":
			resp.Category = value
			sawCategory = true
		case "CONFIDENCE":
			score, err := parseScore(value)
			if err != nil {
				return Response{}, fmt.Errorf("invalid confidence %q: %w", value, err)
			}
			resp.Confidence = score
			sawConfidence = true
		case "REASONING":
			resp.Reasoning = value
		}
	}

	if !sawCategory || resp.Category == "" {
		return Response{}, fmt.Errorf("no category found in response")
	}
	if !sawConfidence {
		return Response{}, fmt.Errorf("no confidence found in response")
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return Response{}, fmt.Errorf("confidence %v out of range", resp.Confidence)
	}

	return resp, nil
}

// parseScore accepts "0.85" or "85%".
func parseScore(value string) (float64, error) {
	if strings.HasSuffix(value, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(value, "%")), 64)
		if err != nil {
			return 0, err
		}
		return pct / 100.0, nil
	}
	return strconv.ParseFloat(value, 64)
}
