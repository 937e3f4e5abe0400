package model

import "time"

// CachedResult is a previously accepted classification stored under a
// transaction fingerprint. Expired entries are treated as misses and
// reaped lazily, never deleted on the read path.
type CachedResult struct {
	CachedAt    time.Time
	ExpiresAt   time.Time
	Fingerprint string
	Route       Route // route that originally produced the result
	CategoryID  int
	Confidence  float64
}

// Expired reports whether the entry is past its expiry at the given time.
func (c *CachedResult) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
