// Package health implements the polling health aggregator (C6): a
// per-account snapshot composed from C3 (vault), C4 (breaker registry),
// and C5 (pool), plus a system-level overall-status rollup and a
// cooldown/ceiling-gated alert sink. Grounded on the teacher's
// internal/infrastructure/llm circuit breaker's own Metrics/logging
// shape for the alert cooldown idea, and on internal/realtime for
// publishing health changes once computed.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cdeskio/activity-gateway/internal/breaker"
	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/pool"
	"github.com/cdeskio/activity-gateway/internal/realtime"
	"github.com/cdeskio/activity-gateway/internal/vault"
)

// Status is the system-level health rollup.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

// AccountSnapshot is one account's row in the health view.
type AccountSnapshot struct {
	Username      string
	Priority      int
	CircuitState  core.CircuitState
	Available     bool
	PoolTotal     int
	PoolActive    int
	PoolHealthy   bool
	SuccessRate   float64
	LastSuccess   time.Time
	LastFailure   time.Time
}

func (a AccountSnapshot) classify() Status {
	switch {
	case a.CircuitState == core.CircuitOpen || !a.Available:
		return StatusCritical
	case a.CircuitState == core.CircuitHalfOpen:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Snapshot is the full C6 view returned by the admin get_health surface.
type Snapshot struct {
	At              time.Time
	Accounts        []AccountSnapshot
	Healthy         int
	Degraded        int
	Critical        int
	Offline         int
	OverallStatus   Status
	Recommendations []string
}

// Config parameterizes the polling interval, minimum-available
// threshold, and alert throttling.
type Config struct {
	CheckInterval        time.Duration
	MinAvailableAccounts int
	AlertCooldown        time.Duration
	AlertHourlyCeiling   int
}

// DefaultConfig mirrors representative production values.
func DefaultConfig() Config {
	return Config{
		CheckInterval:        15 * time.Second,
		MinAvailableAccounts: 1,
		AlertCooldown:        5 * time.Minute,
		AlertHourlyCeiling:   12,
	}
}

type alertHistory struct {
	lastSentAt  time.Time
	hourWindow  time.Time
	sentInHour  int
}

// Monitor polls C3/C4/C5 and composes the aggregated view.
type Monitor struct {
	cfg       Config
	vault     *vault.Vault
	breakers  *breaker.Registry
	pools     *pool.Manager
	publisher *realtime.EventPublisher
	logger    *slog.Logger

	mu        sync.Mutex
	last      Snapshot
	alertedBy map[string]*alertHistory

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Monitor. Call Start to begin polling.
func New(cfg Config, v *vault.Vault, brk *breaker.Registry, pools *pool.Manager, publisher *realtime.EventPublisher, logger *slog.Logger) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		vault:     v,
		breakers:  brk,
		pools:     pools,
		publisher: publisher,
		logger:    logger.With("component", "health"),
		alertedBy: make(map[string]*alertHistory),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background polling loop, computing one snapshot
// immediately before returning.
func (m *Monitor) Start(ctx context.Context) {
	m.poll(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.poll(ctx)
			}
		}
	}()
}

// Close stops the polling loop.
func (m *Monitor) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// Current returns the most recently computed snapshot.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) poll(ctx context.Context) {
	accounts := m.vault.ListAll()
	var poolStats map[string]any
	if m.pools != nil {
		poolStats = m.pools.Health(ctx)
	}

	snap := Snapshot{At: time.Now(), Accounts: make([]AccountSnapshot, 0, len(accounts))}

	for _, a := range accounts {
		state := core.CircuitClosed
		if m.breakers != nil {
			state = m.breakers.For(a.Config.Username).State()
		}

		var healthy bool
		var active int
		if stats, ok := poolStats[a.Config.Username].(map[string]any); ok {
			if v, ok := stats["has_idle_conn"].(bool); ok {
				healthy = v
			}
			if v, ok := stats["opened"].(int); ok {
				active = v
			}
		}

		successRate := 1.0
		if a.TotalAttempts > 0 {
			successRate = float64(a.Successes) / float64(a.TotalAttempts)
		}

		as := AccountSnapshot{
			Username:     a.Config.Username,
			Priority:     a.Config.Priority,
			CircuitState: state,
			Available:    a.Enabled(time.Now()) && state != core.CircuitOpen,
			PoolTotal:    a.Config.MaxConns,
			PoolActive:   active,
			PoolHealthy:  healthy,
			SuccessRate:  successRate,
			LastSuccess:  a.LastSuccess,
			LastFailure:  a.LastFailure,
		}
		snap.Accounts = append(snap.Accounts, as)

		switch as.classify() {
		case StatusHealthy:
			snap.Healthy++
		case StatusDegraded:
			snap.Degraded++
		case StatusCritical:
			snap.Critical++
		}
	}

	available := snap.Healthy + snap.Degraded
	switch {
	case available < m.cfg.MinAvailableAccounts || snap.Healthy == 0 || snap.Critical > 0:
		snap.OverallStatus = StatusCritical
		snap.Recommendations = append(snap.Recommendations, "investigate open-circuit or disabled accounts; fewer than the minimum available")
	case snap.Degraded > snap.Healthy:
		snap.OverallStatus = StatusDegraded
		snap.Recommendations = append(snap.Recommendations, "more accounts degraded than healthy; consider rotating credentials")
	default:
		snap.OverallStatus = StatusHealthy
	}

	prev := m.Current()
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	if prev.OverallStatus != "" && prev.OverallStatus != snap.OverallStatus {
		m.alert(string(snap.OverallStatus), "overall status changed from "+string(prev.OverallStatus)+" to "+string(snap.OverallStatus))
	}
	for _, as := range snap.Accounts {
		if as.classify() == StatusCritical {
			m.alert(as.Username, "account "+as.Username+" is critical (circuit="+string(as.CircuitState)+")")
		}
	}
}

// alert delivers a notification to the realtime sink, subject to a
// per-(type,account) cooldown and a per-hour ceiling.
func (m *Monitor) alert(key, message string) {
	m.mu.Lock()
	h, ok := m.alertedBy[key]
	now := time.Now()
	if !ok {
		h = &alertHistory{hourWindow: now}
		m.alertedBy[key] = h
	}
	if now.Sub(h.hourWindow) > time.Hour {
		h.hourWindow = now
		h.sentInHour = 0
	}
	if !h.lastSentAt.IsZero() && now.Sub(h.lastSentAt) < m.cfg.AlertCooldown {
		m.mu.Unlock()
		return
	}
	if h.sentInHour >= m.cfg.AlertHourlyCeiling {
		m.mu.Unlock()
		return
	}
	h.lastSentAt = now
	h.sentInHour++
	m.mu.Unlock()

	m.logger.Warn("health alert", "key", key, "message", message)
	if m.publisher != nil {
		_ = m.publisher.PublishSystemNotification("warning", message)
	}
}
