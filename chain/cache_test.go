package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addrB    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenCtr = common.HexToAddress("0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa")
)

func TestBalanceCacheTTL(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cache := NewBalanceCache(5*time.Minute, func() time.Time { return now })

	cache.Put(addrA, tokenCtr, big.NewInt(100))

	got, ok := cache.Get(addrA, tokenCtr)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.Int64())

	// Just inside the TTL.
	now = now.Add(5 * time.Minute)
	_, ok = cache.Get(addrA, tokenCtr)
	assert.True(t, ok)

	// Past the TTL: evicted on read.
	now = now.Add(time.Second)
	_, ok = cache.Get(addrA, tokenCtr)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestBalanceCacheReturnsCopies(t *testing.T) {
	cache := NewBalanceCache(time.Minute, nil)
	v := big.NewInt(7)
	cache.Put(addrA, tokenCtr, v)
	v.SetInt64(999)

	got, ok := cache.Get(addrA, tokenCtr)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Int64(), "cache must not alias caller-owned values")

	got.SetInt64(123)
	again, _ := cache.Get(addrA, tokenCtr)
	assert.Equal(t, int64(7), again.Int64())
}

func TestBalanceCacheInvalidateIsKeyScoped(t *testing.T) {
	cache := NewBalanceCache(time.Minute, nil)
	cache.Put(addrA, tokenCtr, big.NewInt(1))
	cache.Put(addrB, tokenCtr, big.NewInt(2))

	cache.Invalidate(addrA, tokenCtr)

	_, ok := cache.Get(addrA, tokenCtr)
	assert.False(t, ok)
	got, ok := cache.Get(addrB, tokenCtr)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Int64())
}

func TestBalanceCacheSweep(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cache := NewBalanceCache(time.Minute, func() time.Time { return now })

	cache.Put(addrA, tokenCtr, big.NewInt(1))
	now = now.Add(30 * time.Second)
	cache.Put(addrB, tokenCtr, big.NewInt(2))

	now = now.Add(45 * time.Second) // addrA expired, addrB still live
	assert.Equal(t, 1, cache.Sweep())
	assert.Equal(t, 1, cache.Len())
}
