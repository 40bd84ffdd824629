package chain

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceCacheTTL bounds how stale a cached balance may be served.
const BalanceCacheTTL = 5 * time.Minute

// BalanceCache caches token balance lookups keyed by (address, contract).
// Eviction is TTL-based on read; successful transfers invalidate the affected
// keys before returning, so no partial-write window is visible to readers.
type BalanceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     *big.Int
	expiresAt time.Time
}

// NewBalanceCache creates a cache with the given TTL. A nil clock uses time.Now.
func NewBalanceCache(ttl time.Duration, now func() time.Time) *BalanceCache {
	if ttl <= 0 {
		ttl = BalanceCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &BalanceCache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

func cacheKey(addr, contract common.Address) string {
	return addr.Hex() + "|" + contract.Hex()
}

// Get returns the cached balance, evicting it if the TTL elapsed.
func (c *BalanceCache) Get(addr, contract common.Address) (*big.Int, bool) {
	key := cacheKey(addr, contract)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return new(big.Int).Set(e.value), true
}

// Put stores a balance for the TTL window.
func (c *BalanceCache) Put(addr, contract common.Address, value *big.Int) {
	if value == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(addr, contract)] = cacheEntry{
		value:     new(big.Int).Set(value),
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops the entry for one (address, contract) pair.
func (c *BalanceCache) Invalidate(addr, contract common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(addr, contract))
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *BalanceCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	dropped := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the current entry count (expired entries included until swept).
func (c *BalanceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
