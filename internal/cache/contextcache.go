// Package cache implements the bounded, two-tier customer context cache
// (C8): a size-bounded LRU of context entries, per-key access counts, and a
// negative-lookup filter that short-circuits repeated misses without ever
// touching the inner map. Grounded on pkg/history/cache's Manager/L1Cache
// shape (two-tier cache with Prometheus counters), but the hand-rolled
// O(n) eviction the teacher flagged with its own "replace with Ristretto
// for production" TODO is replaced here with hashicorp/golang-lru/v2, and
// the negative-lookup tier spec.md calls for (which the teacher's L1/L2
// split has no equivalent of) is built on pkg/bloomset.
package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/pkg/bloomset"
)

// Config controls the cache's capacity, freshness, and negative-filter sizing.
type Config struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`

	// NegativeFilterCardinality and NegativeFilterFPR size the
	// bloomset.Set; they bound how many distinct misses it can
	// track before its false-positive rate starts drifting above target.
	NegativeFilterCardinality uint    `mapstructure:"negative_filter_cardinality"`
	NegativeFilterFPR         float64 `mapstructure:"negative_filter_fpr"`
}

// DefaultConfig matches spec.md §4.8's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:                10000,
		TTL:                       5 * time.Minute,
		NegativeFilterCardinality: 100000,
		NegativeFilterFPR:         0.01,
	}
}

type entry struct {
	value      core.ContextEntry
	expiresAt  time.Time
	accessCnt  uint64
	lastAccess time.Time
}

// Metrics are the cache's Prometheus instruments, following the
// counter/gauge naming conventions of pkg/history/cache.Metrics.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	NegHits   prometheus.Counter
	Evictions prometheus.Counter
	Size      prometheus.Gauge
}

// NewMetrics registers the cache's counters under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Hits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context_cache",
			Name:      "hits_total",
			Help:      "Context cache hits.",
		}),
		Misses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context_cache",
			Name:      "misses_total",
			Help:      "Context cache misses that reached the inner map.",
		}),
		NegHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context_cache",
			Name:      "negative_filter_hits_total",
			Help:      "Misses short-circuited by the negative-lookup filter.",
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context_cache",
			Name:      "evictions_total",
			Help:      "Entries evicted for exceeding maxEntries.",
		}),
		Size: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "context_cache",
			Name:      "size_entries",
			Help:      "Current number of entries held.",
		}),
	}
}

// Cache is the C8 context cache. Safe for concurrent use; spec.md allows
// concurrent reads with a single writer at a time, which the mutex here
// satisfies (a stricter but still-conforming guarantee).
type Cache struct {
	mu       sync.Mutex
	cfg      Config
	store    *lru.Cache[string, *entry]
	negative *bloomset.Set
	logger   *slog.Logger
	metrics  *Metrics
}

// New builds a Cache. maxEntries <= 0 falls back to DefaultConfig's value.
func New(cfg Config, logger *slog.Logger, metrics *Metrics) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.NegativeFilterCardinality == 0 {
		cfg.NegativeFilterCardinality = DefaultConfig().NegativeFilterCardinality
	}
	if cfg.NegativeFilterFPR <= 0 {
		cfg.NegativeFilterFPR = DefaultConfig().NegativeFilterFPR
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := lru.New[string, *entry](cfg.MaxEntries)
	if err != nil {
		return nil, core.Wrap(core.KindConfig, err)
	}

	return &Cache{
		cfg:      cfg,
		store:    store,
		negative: bloomset.New(cfg.NegativeFilterCardinality, cfg.NegativeFilterFPR),
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Get consults the negative filter first, then the inner LRU. A hit
// refreshes LRU recency and increments the access count; a miss or
// expired entry is recorded in the negative filter before returning none.
func (c *Cache) Get(key string) (core.ContextEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.negative.Test(key) {
		if _, ok := c.store.Peek(key); !ok {
			c.observe(c.metrics.NegHits)
			return core.ContextEntry{}, false
		}
	}

	e, ok := c.store.Get(key)
	if !ok {
		c.negative.Add(key)
		c.observe(c.metrics.Misses)
		return core.ContextEntry{}, false
	}
	if time.Now().After(e.expiresAt) {
		c.store.Remove(key)
		c.negative.Add(key)
		c.observe(c.metrics.Misses)
		return core.ContextEntry{}, false
	}

	e.accessCnt++
	e.lastAccess = time.Now()
	c.observe(c.metrics.Hits)
	return e.value, true
}

// Set inserts or replaces an entry, clearing any negative-filter
// membership for key (the filter has no per-key delete, so when key
// tests as present the whole filter is cleared). A set immediately
// followed by get therefore succeeds; Get also checks the inner map
// before trusting a filter hit.
func (c *Cache) Set(key string, value core.ContextEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.negative.Test(key) {
		c.negative.Clear()
	}

	evicted := c.store.Add(key, &entry{
		value:      value,
		expiresAt:  time.Now().Add(c.cfg.TTL),
		lastAccess: time.Now(),
	})
	if evicted {
		c.observe(c.metrics.Evictions)
	}
	if c.metrics != nil {
		c.metrics.Size.Set(float64(c.store.Len()))
	}
}

// Clear empties the cache and the negative filter.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Purge()
	c.negative.Clear()
	if c.metrics != nil {
		c.metrics.Size.Set(0)
	}
}

// TopAccessed returns the k keys with the largest access counts, ties
// broken by most-recent access.
func (c *Cache) TopAccessed(k int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type kv struct {
		key string
		e   *entry
	}
	all := make([]kv, 0, c.store.Len())
	for _, key := range c.store.Keys() {
		if e, ok := c.store.Peek(key); ok {
			all = append(all, kv{key, e})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].e.accessCnt != all[j].e.accessCnt {
			return all[i].e.accessCnt > all[j].e.accessCnt
		}
		return all[i].e.lastAccess.After(all[j].e.lastAccess)
	})

	if k > len(all) {
		k = len(all)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].key
	}
	return out
}

// Stats is a point-in-time snapshot for the health/admin surface.
type Stats struct {
	Entries    int
	MaxEntries int
	TTL        time.Duration
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:    c.store.Len(),
		MaxEntries: c.cfg.MaxEntries,
		TTL:        c.cfg.TTL,
	}
}

// Close releases the cache's contents. The cache owns no background
// goroutines (eviction is inline on Set, unlike the teacher's
// cleanup-goroutine L1Cache), so Close only needs to free memory.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

func (c *Cache) observe(counter prometheus.Counter) {
	if c.metrics != nil && counter != nil {
		counter.Inc()
	}
}
