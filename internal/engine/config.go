package engine

import "time"

// Thresholds are the per-layer confidence gates. The exact values are
// deliberately configuration, not invariants; these defaults are a
// starting point.
type Thresholds struct {
	Similarity  float64
	Statistical float64
}

// Config holds the engine's tunables.
type Config struct {
	Thresholds Thresholds

	// SimilarityK is how many neighbors the similarity layer consults.
	SimilarityK int
	// SimilarityMinNeighbors is the minimum labeled population before the
	// similarity layer will vote at all.
	SimilarityMinNeighbors int

	// RemoteComplexityCutoff is the complexity above which a high-value
	// transaction justifies a remote call even when the value check fails.
	RemoteComplexityCutoff float64
	// RemoteHighValueCents is the amount making a transaction "high value".
	RemoteHighValueCents int64
	// RemoteCostWeighting scales estimated cost in the value check.
	RemoteCostWeighting float64

	// HistoryWindow bounds how far back the history snapshot looks.
	HistoryWindow time.Duration
	// HistoryRefreshInterval is how often the snapshot is rebuilt.
	HistoryRefreshInterval time.Duration
}

// withDefaults fills every unset field from DefaultConfig, leaving the
// caller's explicit values alone.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Thresholds.Similarity == 0 {
		c.Thresholds.Similarity = d.Thresholds.Similarity
	}
	if c.Thresholds.Statistical == 0 {
		c.Thresholds.Statistical = d.Thresholds.Statistical
	}
	if c.SimilarityK == 0 {
		c.SimilarityK = d.SimilarityK
	}
	if c.SimilarityMinNeighbors == 0 {
		c.SimilarityMinNeighbors = d.SimilarityMinNeighbors
	}
	if c.RemoteComplexityCutoff == 0 {
		c.RemoteComplexityCutoff = d.RemoteComplexityCutoff
	}
	if c.RemoteHighValueCents == 0 {
		c.RemoteHighValueCents = d.RemoteHighValueCents
	}
	if c.RemoteCostWeighting == 0 {
		c.RemoteCostWeighting = d.RemoteCostWeighting
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.HistoryRefreshInterval == 0 {
		c.HistoryRefreshInterval = d.HistoryRefreshInterval
	}
	return c
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			Similarity:  0.80,
			Statistical: 0.75,
		},
		SimilarityK:            5,
		SimilarityMinNeighbors: 3,
		RemoteComplexityCutoff: 0.7,
		RemoteHighValueCents:   20000,
		RemoteCostWeighting:    2.0,
		HistoryWindow:          30 * 24 * time.Hour,
		HistoryRefreshInterval: 5 * time.Minute,
	}
}
