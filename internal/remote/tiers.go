package remote

import "math"

// Tier is one provider model tier. Cheap tiers handle low-complexity
// records; higher complexity escalates to stronger, pricier models.
type Tier struct {
	Name             string
	Model            string
	InputCentsPer1K  float64
	OutputCentsPer1K float64
	MaxComplexity    float64 // highest complexity score this tier serves
}

// DefaultAnthropicTiers is the default escalation ladder for the
// Anthropic provider.
func DefaultAnthropicTiers() []Tier {
	return []Tier{
		{Name: "fast", Model: "claude-3-haiku-20240307", InputCentsPer1K: 0.025, OutputCentsPer1K: 0.125, MaxComplexity: 0.4},
		{Name: "standard", Model: "claude-3-sonnet-20240229", InputCentsPer1K: 0.3, OutputCentsPer1K: 1.5, MaxComplexity: 0.75},
		{Name: "deep", Model: "claude-3-opus-20240229", InputCentsPer1K: 1.5, OutputCentsPer1K: 7.5, MaxComplexity: 1.0},
	}
}

// DefaultOpenAITiers is the default escalation ladder for the OpenAI
// provider.
func DefaultOpenAITiers() []Tier {
	return []Tier{
		{Name: "fast", Model: "gpt-4o-mini", InputCentsPer1K: 0.015, OutputCentsPer1K: 0.06, MaxComplexity: 0.4},
		{Name: "standard", Model: "gpt-4o", InputCentsPer1K: 0.25, OutputCentsPer1K: 1.0, MaxComplexity: 0.75},
		{Name: "deep", Model: "gpt-4-turbo", InputCentsPer1K: 1.0, OutputCentsPer1K: 3.0, MaxComplexity: 1.0},
	}
}

// selectTier picks the cheapest tier whose ceiling covers the complexity
// score. Falls back to the last tier for scores above every ceiling.
func selectTier(tiers []Tier, complexity float64) Tier {
	for _, t := range tiers {
		if complexity <= t.MaxComplexity {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// CostCents computes the call cost in cents, rounded up so the ledger
// never undercounts.
func (t Tier) CostCents(inputTokens, outputTokens int) int64 {
	cost := float64(inputTokens)/1000.0*t.InputCentsPer1K +
		float64(outputTokens)/1000.0*t.OutputCentsPer1K
	return int64(math.Ceil(cost))
}

// EstimateCostCents predicts a call's cost for admission control before
// any tokens are spent.
func (t Tier) EstimateCostCents(promptLen int) int64 {
	// Rough heuristic: 4 characters per token, short structured reply.
	inputTokens := promptLen / 4
	return t.CostCents(inputTokens, 80)
}
