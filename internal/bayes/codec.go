package bayes

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SchemaVersion identifies the serialized model layout. Decode rejects
// blobs written with a different schema rather than guessing.
const SchemaVersion = 1

// encodedModel is the explicit on-disk schema for a model version: plain
// counts plus metadata, never an opaque object-graph dump.
type encodedModel struct {
	TrainedAt    time.Time                  `json:"trained_at"`
	FeatureSums  map[int]map[string]float64 `json:"feature_sums"`
	ClassTotals  map[int]float64            `json:"class_totals"`
	ClassCounts  map[int]int                `json:"class_counts"`
	Vocabulary   []string                   `json:"vocabulary"`
	Metrics      Metrics                    `json:"metrics"`
	Alpha        float64                    `json:"alpha"`
	TotalSamples int                        `json:"total_samples"`
	Version      int                        `json:"version"`
	Schema       int                        `json:"schema"`
}

// Encode serializes a model to its versioned JSON schema.
func Encode(m *Model) ([]byte, error) {
	vocab := make([]string, 0, len(m.Vocabulary))
	for key := range m.Vocabulary {
		vocab = append(vocab, key)
	}
	sort.Strings(vocab)

	enc := encodedModel{
		Schema:       SchemaVersion,
		Alpha:        m.Alpha,
		FeatureSums:  m.FeatureSums,
		ClassTotals:  m.ClassTotals,
		ClassCounts:  m.ClassCounts,
		Vocabulary:   vocab,
		TotalSamples: m.TotalSamples,
		Version:      m.Version,
		TrainedAt:    m.TrainedAt,
		Metrics:      m.Metrics,
	}

	data, err := json.Marshal(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	return data, nil
}

// Decode reconstructs a finalized model from its JSON schema, verifying the
// schema version and internal consistency first.
func Decode(data []byte) (*Model, error) {
	var enc encodedModel
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	if enc.Schema != SchemaVersion {
		return nil, fmt.Errorf("unsupported model schema %d (expected %d)", enc.Schema, SchemaVersion)
	}
	if enc.Alpha <= 0 {
		return nil, fmt.Errorf("invalid model: alpha %v must be positive", enc.Alpha)
	}
	if enc.TotalSamples <= 0 {
		return nil, fmt.Errorf("invalid model: no training samples recorded")
	}

	m := NewModel(enc.Alpha)
	m.FeatureSums = enc.FeatureSums
	m.ClassTotals = enc.ClassTotals
	m.ClassCounts = enc.ClassCounts
	m.TotalSamples = enc.TotalSamples
	m.Version = enc.Version
	m.TrainedAt = enc.TrainedAt
	m.Metrics = enc.Metrics
	if m.FeatureSums == nil {
		m.FeatureSums = make(map[int]map[string]float64)
	}
	if m.ClassTotals == nil {
		m.ClassTotals = make(map[int]float64)
	}
	if m.ClassCounts == nil {
		return nil, fmt.Errorf("invalid model: missing class counts")
	}
	for _, key := range enc.Vocabulary {
		m.Vocabulary[key] = struct{}{}
	}

	m.finalize()
	return m, nil
}
