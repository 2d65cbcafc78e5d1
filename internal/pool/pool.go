// Package pool implements the per-account connection pool manager (C5):
// bounded idle/in-use sets per warehouse account, a periodic health
// probe loop, and acquire/release semantics that consult C3 (vault) and
// C4 (breaker) on every acquire. Grounded on the lifecycle shape of
// internal/database/postgres/pool.go (Connect/Disconnect/periodic health
// checker goroutine, Stats()), but generalized from a single pgxpool.Pool
// wrapping one database to N independently-bounded pools — one per
// account — since pgxpool's own pooling would double up with the
// acquire/release/health semantics spec.md assigns to this component
// directly; each account pool here instead holds bare core.Conn values
// opened through core.ConnFactory.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cdeskio/activity-gateway/internal/breaker"
	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/vault"
)

// Config parameterizes every account's pool identically; per-account
// ceilings still come from each AccountConfig.MaxConns.
type Config struct {
	MinSize        int           `mapstructure:"min_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	MaxIdle        int           `mapstructure:"max_idle"`
}

// DefaultConfig mirrors representative production values.
func DefaultConfig() Config {
	return Config{
		MinSize:        1,
		ConnectTimeout: 5 * time.Second,
		HealthInterval: 30 * time.Second,
		HealthTimeout:  2 * time.Second,
		MaxIdle:        4,
	}
}

type accountPool struct {
	mu     sync.Mutex
	acct   core.AccountConfig
	idle   []core.Conn
	opened int // total connections currently open (idle + in use)
}

// Manager implements core.ConnectionLayer (minus ExecuteTemplate, which
// the registry wraps around Acquire/Release at the dispatcher layer).
type Manager struct {
	cfg     Config
	factory core.ConnFactory
	vault   *vault.Vault
	brk     *breaker.Registry
	logger  *slog.Logger

	mu     sync.Mutex
	pools  map[string]*accountPool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager. Call Initialize before first use.
func New(cfg Config, factory core.ConnFactory, v *vault.Vault, brk *breaker.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		factory: factory,
		vault:   v,
		brk:     brk,
		logger:  logger.With("component", "pool"),
		pools:   make(map[string]*accountPool),
		stopCh:  make(chan struct{}),
	}
}

// Initialize opens min(MinSize, MaxConns) connections per active account
// concurrently. An account whose every dial attempt fails is left with
// an empty pool and the breaker is notified of a failure; Initialize
// itself never fails for a single bad account.
func (m *Manager) Initialize(ctx context.Context) error {
	accounts := m.vault.ListActive()

	var wg sync.WaitGroup
	for _, a := range accounts {
		wg.Add(1)
		go func(a *core.Account) {
			defer wg.Done()
			m.initAccount(ctx, a.Config)
		}(a)
	}
	wg.Wait()

	m.wg.Add(1)
	go m.healthLoop()
	return nil
}

func (m *Manager) initAccount(ctx context.Context, acct core.AccountConfig) {
	target := m.cfg.MinSize
	if acct.MaxConns > 0 && target > acct.MaxConns {
		target = acct.MaxConns
	}

	ap := &accountPool{acct: acct}
	m.mu.Lock()
	m.pools[acct.Username] = ap
	m.mu.Unlock()

	var opened int
	for i := 0; i < target; i++ {
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		conn, err := m.factory.Dial(dialCtx, acct)
		cancel()
		if err != nil {
			m.logger.Warn("failed to open connection", "account", acct.Username, "error", err)
			continue
		}
		ap.mu.Lock()
		ap.idle = append(ap.idle, conn)
		ap.opened++
		ap.mu.Unlock()
		opened++
	}

	if opened == 0 && m.brk != nil {
		m.brk.For(acct.Username).RecordFailure()
	}
}

// Acquire hands out a connection, preferring `preferred` if it has a
// healthy idle connection; otherwise it walks the vault's active
// accounts in priority order (skipping breaker-rejected accounts) and
// scans at most one pass through candidates.
func (m *Manager) Acquire(ctx context.Context, preferred string) (core.Conn, error) {
	if preferred != "" && (m.brk == nil || m.brk.CanExecute(preferred)) {
		m.mu.Lock()
		ap, ok := m.pools[preferred]
		m.mu.Unlock()
		if ok {
			ap.mu.Lock()
			if n := len(ap.idle); n > 0 {
				conn := ap.idle[n-1]
				ap.idle = ap.idle[:n-1]
				ap.mu.Unlock()
				return conn, nil
			}
			ap.mu.Unlock()
		}
	}

	for _, account := range m.vault.ListActive() {
		if m.brk != nil && !m.brk.CanExecute(account.Config.Username) {
			continue
		}
		conn, err := m.tryAcquireFrom(ctx, account.Config.Username)
		if err == nil {
			return conn, nil
		}
		if core.KindOf(err) != core.KindNoCapacity {
			return nil, err
		}
		// this account is saturated; try the next candidate in priority order.
	}
	return nil, core.NewError(core.KindNoAvailAccount, "no warehouse account is eligible with spare capacity")
}

func (m *Manager) tryAcquireFrom(ctx context.Context, username string) (core.Conn, error) {
	m.mu.Lock()
	ap, ok := m.pools[username]
	m.mu.Unlock()
	if !ok {
		return nil, core.Newf(core.KindConfig, "no pool for account %q", username)
	}

	ap.mu.Lock()
	if len(ap.idle) > 0 {
		conn := ap.idle[len(ap.idle)-1]
		ap.idle = ap.idle[:len(ap.idle)-1]
		ap.mu.Unlock()
		return conn, nil
	}
	ceiling := ap.acct.MaxConns
	canOpen := ceiling <= 0 || ap.opened < ceiling
	ap.mu.Unlock()

	if !canOpen {
		return nil, core.NewError(core.KindNoCapacity, "account "+username+" is at its connection ceiling")
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, err := m.factory.Dial(dialCtx, ap.acct)
	cancel()
	if err != nil {
		if m.brk != nil {
			m.brk.For(username).RecordFailure()
		}
		return nil, core.Wrap(core.KindWarehouse, err)
	}

	ap.mu.Lock()
	ap.opened++
	ap.mu.Unlock()
	return conn, nil
}

// Release returns a connection to its account's idle set, honoring
// MaxIdle; excess connections are closed rather than retained.
func (m *Manager) Release(conn core.Conn) {
	m.mu.Lock()
	ap, ok := m.pools[conn.Account()]
	m.mu.Unlock()
	if !ok {
		_ = conn.Close()
		return
	}

	ap.mu.Lock()
	if len(ap.idle) >= m.cfg.MaxIdle {
		ap.opened--
		ap.mu.Unlock()
		_ = conn.Close()
		return
	}
	ap.idle = append(ap.idle, conn)
	ap.mu.Unlock()
}

// Close stops the health loop and closes every idle connection;
// connections currently checked out are not closed.
func (m *Manager) Close() error {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ap := range m.pools {
		ap.mu.Lock()
		for _, c := range ap.idle {
			_ = c.Close()
		}
		ap.idle = nil
		ap.mu.Unlock()
	}
	return nil
}

// Stats reports idle/opened counts per account.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.pools))
	for username, ap := range m.pools {
		ap.mu.Lock()
		out[username] = map[string]any{"idle": len(ap.idle), "opened": ap.opened}
		ap.mu.Unlock()
	}
	return out
}

// Health reports, per account, whether an idle connection is available
// and how many connections are open, for C6. It does not probe any
// connection itself; probing happens only in the periodic health loop.
func (m *Manager) Health(ctx context.Context) map[string]any {
	m.mu.Lock()
	pools := make(map[string]*accountPool, len(m.pools))
	for k, v := range m.pools {
		pools[k] = v
	}
	m.mu.Unlock()

	out := make(map[string]any, len(pools))
	for username, ap := range pools {
		ap.mu.Lock()
		hasIdle := len(ap.idle) > 0
		opened := ap.opened
		ap.mu.Unlock()
		out[username] = map[string]any{"has_idle_conn": hasIdle, "opened": opened}
	}
	return out
}

// Unlock resets the account's breaker and leaves pool state untouched;
// the vault owns cooldown/failure-streak state.
func (m *Manager) Unlock(username string) error {
	if m.brk != nil {
		m.brk.For(username).Reset()
	}
	return m.vault.Unlock(username)
}

// Rotate closes the idle connections of the highest-priority active
// account. It does not change which account the vault ranks first: while
// that account stays eligible, the next Acquire opens a fresh connection
// on it rather than moving to the next-priority account.
func (m *Manager) Rotate() error {
	accounts := m.vault.ListActive()
	if len(accounts) == 0 {
		return nil
	}
	top := accounts[0].Config.Username

	m.mu.Lock()
	ap, ok := m.pools[top]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	ap.mu.Lock()
	for _, c := range ap.idle {
		_ = c.Close()
		ap.opened--
	}
	ap.idle = nil
	ap.mu.Unlock()
	return nil
}

func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

func (m *Manager) probeAll() {
	m.mu.Lock()
	pools := make([]*accountPool, 0, len(m.pools))
	for _, ap := range m.pools {
		pools = append(pools, ap)
	}
	m.mu.Unlock()

	for _, ap := range pools {
		m.probeAccount(ap)
	}
}

func (m *Manager) probeAccount(ap *accountPool) {
	ap.mu.Lock()
	candidates := ap.idle
	ap.idle = nil
	ap.mu.Unlock()

	var healthy []core.Conn
	for _, conn := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HealthTimeout)
		err := conn.Ping(ctx)
		cancel()
		if err != nil {
			m.logger.Warn("evicting unhealthy connection", "account", ap.acct.Username, "error", err)
			_ = conn.Close()
			ap.mu.Lock()
			ap.opened--
			ap.mu.Unlock()
			continue
		}
		healthy = append(healthy, conn)
	}

	ap.mu.Lock()
	ap.idle = append(ap.idle, healthy...)
	opened := ap.opened
	ap.mu.Unlock()

	if opened < m.cfg.MinSize {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		defer cancel()
		m.replenish(ctx, ap)
	}
}

func (m *Manager) replenish(ctx context.Context, ap *accountPool) {
	ap.mu.Lock()
	need := m.cfg.MinSize - ap.opened
	acct := ap.acct
	ap.mu.Unlock()

	for i := 0; i < need; i++ {
		conn, err := m.factory.Dial(ctx, acct)
		if err != nil {
			m.logger.Warn("replenish failed", "account", acct.Username, "error", err)
			continue
		}
		ap.mu.Lock()
		ap.idle = append(ap.idle, conn)
		ap.opened++
		ap.mu.Unlock()
	}
}

var _ core.ConnectionLayer = (*Manager)(nil)

// ExecuteTemplate is intentionally not implemented here; C2's registry
// wraps Acquire/Release around template execution so this package has
// no knowledge of SQL. Template execution goes through
// internal/registry's Execute on a connection obtained from Acquire;
// this method always returns a ConfigError.
func (m *Manager) ExecuteTemplate(ctx context.Context, name string, params []any, tag string) (*core.QueryResult, error) {
	return nil, core.Newf(core.KindConfig, "ExecuteTemplate is not implemented by internal/pool; use internal/registry Execute with Acquire/Release")
}
