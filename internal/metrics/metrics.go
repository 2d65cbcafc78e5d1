// Package metrics implements the dispatcher-facing metrics core (C11):
// a fixed, non-dynamic set of per-tool counters plus a bounded latency
// reservoir that Snapshot samples for p50/p95/p99 on demand.
// Grounded on pkg/metrics's category-registry shape (NewMetricsRegistry,
// lazy per-category promauto registration) but collapsed to a single
// flat registry since C11 has only one category (tool calls) and an
// explicit "no dynamic labels beyond the fixed tool names" constraint
// that rules out the teacher's broader label surfaces.
package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// reservoirSize bounds the number of recent latency samples retained
// per tool, per spec.md §4.11's stated default.
const reservoirSize = 1000

// toolStat is one tool's counters plus its ring-buffer latency reservoir.
type toolStat struct {
	mu       sync.Mutex
	count    uint64
	errors   uint64
	samples  []time.Duration
	next     int
	filled   bool

	countVec  prometheus.Counter
	errorVec  prometheus.Counter
	latencies prometheus.Observer
}

func newToolStat(namespace, tool string) *toolStat {
	return &toolStat{
		samples: make([]time.Duration, reservoirSize),
		countVec: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "tool",
			Name:        "calls_total",
			Help:        "Total number of tool dispatcher calls.",
			ConstLabels: prometheus.Labels{"tool": tool},
		}),
		errorVec: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "tool",
			Name:        "errors_total",
			Help:        "Total number of tool dispatcher calls that returned an error.",
			ConstLabels: prometheus.Labels{"tool": tool},
		}),
		latencies: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "tool",
			Name:        "latency_seconds",
			Help:        "Tool dispatcher call latency.",
			ConstLabels: prometheus.Labels{"tool": tool},
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

// record appends one latency sample to the ring buffer and bumps the
// monotonic counters. Called with the tool's lock held.
func (s *toolStat) record(d time.Duration, failed bool) {
	s.count++
	if failed {
		s.errors++
	}
	s.samples[s.next] = d
	s.next = (s.next + 1) % reservoirSize
	if s.next == 0 {
		s.filled = true
	}
}

func (s *toolStat) percentiles() (p50, p95, p99 time.Duration) {
	n := s.next
	if s.filled {
		n = reservoirSize
	}
	if n == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, s.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(q float64) time.Duration {
		idx := int(q * float64(n-1))
		return sorted[idx]
	}
	return at(0.50), at(0.95), at(0.99)
}

// ToolSnapshot is the point-in-time view of one tool's metrics.
type ToolSnapshot struct {
	Tool   string
	Count  uint64
	Errors uint64
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
}

// Core is the C11 metrics registry: one toolStat per recognized tool
// name, a periodic rollup logger, and nothing else. There is
// deliberately no mechanism to register a new tool at runtime — the
// tool set is fixed at construction to keep the label surface static.
type Core struct {
	namespace string
	logger    *slog.Logger

	mu    sync.RWMutex
	tools map[string]*toolStat

	rollupInterval time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// New constructs a Core pre-registering one toolStat per name in tools.
// Recording a sample for a name outside this set is a programmer error
// and is silently dropped rather than growing the label set.
func New(namespace string, tools []string, rollupInterval time.Duration, logger *slog.Logger) *Core {
	if namespace == "" {
		namespace = "cdesk"
	}
	if rollupInterval <= 0 {
		rollupInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		namespace:      namespace,
		logger:         logger.With("component", "metrics"),
		tools:          make(map[string]*toolStat, len(tools)),
		rollupInterval: rollupInterval,
		stopCh:         make(chan struct{}),
	}
	for _, name := range tools {
		c.tools[name] = newToolStat(namespace, name)
	}
	return c
}

// Observe records one call's latency and outcome for the named tool.
func (c *Core) Observe(tool string, d time.Duration, failed bool) {
	c.mu.RLock()
	s, ok := c.tools[tool]
	c.mu.RUnlock()
	if !ok {
		return
	}
	s.latencies.Observe(d.Seconds())
	s.countVec.Inc()
	if failed {
		s.errorVec.Inc()
	}
	s.mu.Lock()
	s.record(d, failed)
	s.mu.Unlock()
}

// Snapshot returns the current count/errors/percentiles for one tool.
// ok is false if the tool name was never registered.
func (c *Core) Snapshot(tool string) (ToolSnapshot, bool) {
	c.mu.RLock()
	s, ok := c.tools[tool]
	c.mu.RUnlock()
	if !ok {
		return ToolSnapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p50, p95, p99 := s.percentiles()
	return ToolSnapshot{Tool: tool, Count: s.count, Errors: s.errors, P50: p50, P95: p95, P99: p99}, true
}

// SnapshotAll returns a snapshot for every registered tool, sorted by name.
func (c *Core) SnapshotAll() []ToolSnapshot {
	c.mu.RLock()
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	out := make([]ToolSnapshot, 0, len(names))
	for _, name := range names {
		snap, _ := c.Snapshot(name)
		out = append(out, snap)
	}
	return out
}

// Start launches the periodic rollup log line.
func (c *Core) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.rollupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.rollup()
			}
		}
	}()
}

// Close stops the rollup loop.
func (c *Core) Close() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Core) rollup() {
	for _, snap := range c.SnapshotAll() {
		if snap.Count == 0 {
			continue
		}
		c.logger.Info("tool rollup",
			"tool", snap.Tool,
			"count", snap.Count,
			"errors", snap.Errors,
			"p50_ms", snap.P50.Milliseconds(),
			"p95_ms", snap.P95.Milliseconds(),
			"p99_ms", snap.P99.Milliseconds(),
		)
	}
}
