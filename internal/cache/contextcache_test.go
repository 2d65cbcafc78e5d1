package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdeskio/activity-gateway/internal/core"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c, err := New(cfg, nil, NewMetrics("test"))
	require.NoError(t, err)
	return c
}

func TestCache_SetThenGet_Hits(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 10, TTL: time.Minute})

	entry := core.ContextEntry{CustomerKey: "cust_1", Document: map[string]any{"a": 1}}
	c.Set("cust_1", entry)

	got, ok := c.Get("cust_1")
	assert.True(t, ok)
	assert.Equal(t, entry.CustomerKey, got.CustomerKey)
}

func TestCache_Get_MissRecordedInNegativeFilter(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 10, TTL: time.Minute})

	_, ok := c.Get("never-set")
	assert.False(t, ok)
}

func TestCache_SetAfterNegativeFilter_StillReturnsValue(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 10, TTL: time.Minute})

	_, ok := c.Get("cust_2")
	require.False(t, ok)

	c.Set("cust_2", core.ContextEntry{CustomerKey: "cust_2"})

	got, ok := c.Get("cust_2")
	assert.True(t, ok)
	assert.Equal(t, "cust_2", got.CustomerKey)
}

func TestCache_Get_ExpiredEntryTreatedAsMiss(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 10, TTL: time.Millisecond})

	c.Set("cust_3", core.ContextEntry{CustomerKey: "cust_3"})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("cust_3")
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsedBeyondBound(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 2, TTL: time.Minute})

	c.Set("a", core.ContextEntry{CustomerKey: "a"})
	c.Set("b", core.ContextEntry{CustomerKey: "b"})
	c.Get("a") // touch a so b is the LRU victim
	c.Set("c", core.ContextEntry{CustomerKey: "c"})

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")

	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestCache_TopAccessed_OrdersByCountThenRecency(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 10, TTL: time.Minute})

	c.Set("hot", core.ContextEntry{CustomerKey: "hot"})
	c.Set("warm", core.ContextEntry{CustomerKey: "warm"})
	c.Set("cold", core.ContextEntry{CustomerKey: "cold"})

	c.Get("hot")
	c.Get("hot")
	c.Get("warm")

	top := c.TopAccessed(2)
	require.Len(t, top, 2)
	assert.Equal(t, "hot", top[0])
	assert.Equal(t, "warm", top[1])
}

func TestCache_Clear_RemovesEntriesAndNegativeState(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 10, TTL: time.Minute})

	c.Set("cust_4", core.ContextEntry{CustomerKey: "cust_4"})
	c.Clear()

	_, ok := c.Get("cust_4")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCache_Stats_ReflectsMaxEntriesAndTTL(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 7, TTL: 2 * time.Minute})
	stats := c.Stats()
	assert.Equal(t, 7, stats.MaxEntries)
	assert.Equal(t, 2*time.Minute, stats.TTL)
}
