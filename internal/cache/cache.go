// Package cache stores accepted classifications under transaction
// fingerprints, with a bounded in-memory tier over a durable read-through
// tier and confidence-scaled expiry.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/model"
)

// maxMemoryEntries bounds the in-memory tier; the durable tier keeps
// everything.
const maxMemoryEntries = 10000

// Store is the durable cache tier.
type Store interface {
	GetCachedResult(ctx context.Context, fingerprint string) (*model.CachedResult, error)
	SaveCachedResult(ctx context.Context, result *model.CachedResult) error
}

// TTLFor maps a result's confidence to its cache lifetime. Higher
// confidence earns a strictly longer TTL.
func TTLFor(confidence float64) time.Duration {
	switch {
	case confidence >= 0.95:
		return 30 * 24 * time.Hour
	case confidence >= 0.90:
		return 7 * 24 * time.Hour
	case confidence >= 0.85:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// ResultCache is the exact-match classification cache. Concurrent reads
// and writes are allowed; last write wins.
type ResultCache struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	entries map[string]model.CachedResult
	stopCh  chan struct{}
	mu      sync.RWMutex
}

// New creates a cache over the given durable store and starts the
// background reaper for the memory tier.
func New(store Store, logger *slog.Logger) *ResultCache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &ResultCache{
		store:   store,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]model.CachedResult),
		stopCh:  make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get returns the cached result for a fingerprint, reading through to the
// durable tier on a memory miss. Expired entries are misses, not deletes.
func (c *ResultCache) Get(ctx context.Context, fingerprint string) (*model.CachedResult, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if ok {
		if entry.Expired(now) {
			return nil, false
		}
		return &entry, true
	}

	if c.store == nil {
		return nil, false
	}

	stored, err := c.store.GetCachedResult(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			c.logger.Warn("durable cache read failed", "error", err)
		}
		return nil, false
	}
	if stored.Expired(now) {
		return nil, false
	}

	// Promote to the memory tier.
	c.mu.Lock()
	c.entries[fingerprint] = *stored
	c.mu.Unlock()

	return stored, true
}

// Put stores a result in both tiers. Last write wins.
func (c *ResultCache) Put(ctx context.Context, result model.CachedResult) {
	if result.CachedAt.IsZero() {
		result.CachedAt = c.now()
	}
	if result.ExpiresAt.IsZero() {
		result.ExpiresAt = result.CachedAt.Add(TTLFor(result.Confidence))
	}

	c.mu.Lock()
	c.entries[result.Fingerprint] = result
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveCachedResult(ctx, &result); err != nil {
			c.logger.Warn("durable cache write failed",
				"fingerprint", result.Fingerprint,
				"error", err)
		}
	}
}

// Size returns the number of entries in the memory tier.
func (c *ResultCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup periodically reaps expired memory-tier entries and trims the
// tier back under its bound, oldest first.
func (c *ResultCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.reap()
		}
	}
}

func (c *ResultCache) reap() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
		}
	}

	for len(c.entries) > maxMemoryEntries {
		oldestKey := ""
		var oldest time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.CachedAt.Before(oldest) {
				oldestKey, oldest = key, entry.CachedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

// Close stops the background reaper.
func (c *ResultCache) Close() {
	close(c.stopCh)
}
