package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LimitsCache caches per-symbol trading limits in front of a Gateway.
//
// Entries younger than RefreshInterval are served from memory. Older
// entries trigger a refetch; if the refetch fails the cached value is
// still served as long as it is younger than MaxStale. Beyond MaxStale
// the cache returns an error instead of a possibly wrong limit set,
// because sizing against stale limits is a correctness risk.
type LimitsCache struct {
	gateway         Gateway
	refreshInterval time.Duration
	maxStale        time.Duration

	mu      sync.RWMutex
	entries map[string]*SymbolLimits
}

// NewLimitsCache creates a limits cache over the given gateway.
func NewLimitsCache(gateway Gateway, refreshInterval, maxStale time.Duration) *LimitsCache {
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}
	if maxStale < refreshInterval {
		maxStale = 4 * refreshInterval
	}
	return &LimitsCache{
		gateway:         gateway,
		refreshInterval: refreshInterval,
		maxStale:        maxStale,
		entries:         make(map[string]*SymbolLimits),
	}
}

// Get returns the limits for symbol, refreshing from the gateway when
// the cached entry has aged out.
func (c *LimitsCache) Get(ctx context.Context, symbol string) (*SymbolLimits, error) {
	c.mu.RLock()
	cached, ok := c.entries[symbol]
	c.mu.RUnlock()

	if ok && time.Since(cached.FetchedAt) < c.refreshInterval {
		return cached, nil
	}

	limits, err := c.gateway.GetSymbolLimits(ctx, symbol)
	if err != nil {
		if ok && time.Since(cached.FetchedAt) < c.maxStale {
			return cached, nil
		}
		if ok {
			return nil, fmt.Errorf("limits for %s are stale (age %s) and refresh failed: %w",
				symbol, time.Since(cached.FetchedAt).Round(time.Second), err)
		}
		return nil, fmt.Errorf("failed to fetch limits for %s: %w", symbol, err)
	}

	if limits.FetchedAt.IsZero() {
		limits.FetchedAt = time.Now()
	}

	c.mu.Lock()
	c.entries[symbol] = limits
	c.mu.Unlock()

	return limits, nil
}

// Invalidate drops the cached entry for symbol.
func (c *LimitsCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}

// CachedSymbols returns the symbols currently held in the cache.
func (c *LimitsCache) CachedSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.entries))
	for s := range c.entries {
		symbols = append(symbols, s)
	}
	return symbols
}
