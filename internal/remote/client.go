// Package remote wraps the paid AI classification service: anonymized
// prompts, complexity-keyed model tiers, hard timeouts, and cost tracking.
package remote

import "context"

// Client defines the interface for paid classification providers.
type Client interface {
	Classify(ctx context.Context, modelName, prompt string) (Response, error)
}

// Response contains the provider's classification result with token usage.
type Response struct {
	Category     string
	Reasoning    string
	Confidence   float64
	InputTokens  int
	OutputTokens int
}
