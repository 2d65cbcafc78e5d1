package pool

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/cdeskio/activity-gateway/internal/breaker"
	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/vault"
)

type fakeConn struct {
	account string
	closed  atomic.Bool
	pingErr error
}

func (c *fakeConn) Account() string { return c.account }
func (c *fakeConn) Exec(ctx context.Context, sql, tag string, params []any) (*core.QueryResult, error) {
	return &core.QueryResult{}, nil
}
func (c *fakeConn) Ping(ctx context.Context) error { return c.pingErr }
func (c *fakeConn) Close() error                   { c.closed.Store(true); return nil }

type fakeFactory struct {
	dialCount atomic.Int64
	failAcct  string
}

func (f *fakeFactory) Dial(ctx context.Context, acct core.AccountConfig) (core.Conn, error) {
	f.dialCount.Add(1)
	if acct.Username == f.failAcct {
		return nil, assertErr{}
	}
	return &fakeConn{account: acct.Username}, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "dial failed" }

func testConfigs() []core.AccountConfig {
	return []core.AccountConfig{
		{Username: "acct_a", Priority: 1, MaxConns: 2},
	}
}

func newTestManager(t *testing.T, factory core.ConnFactory, configs []core.AccountConfig) *Manager {
	t.Helper()
	v := vault.New(configs, nil)
	cfg := DefaultConfig()
	cfg.MinSize = 1
	cfg.HealthInterval = time.Hour // don't let the background loop interfere with assertions
	return New(cfg, factory, v, nil, slog.Default())
}

func TestManager_InitializeOpensMinSize(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(t, factory, testConfigs())

	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	stats := m.Stats()["acct_a"].(map[string]any)
	assert.Equal(t, 1, stats["opened"])
}

func TestManager_AcquireReleaseRoundTrip(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(t, factory, testConfigs())
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	conn, err := m.Acquire(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "acct_a", conn.Account())

	m.Release(conn)
	stats := m.Stats()["acct_a"].(map[string]any)
	assert.Equal(t, 1, stats["idle"])
}

func TestManager_AcquireOpensBeyondMinUpToCeiling(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(t, factory, testConfigs())
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	c1, err := m.Acquire(context.Background(), "")
	require.NoError(t, err)
	c2, err := m.Acquire(context.Background(), "")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)

	_, err = m.Acquire(context.Background(), "")
	assert.Error(t, err) // ceiling is 2, both now in use
	assert.Equal(t, core.KindNoAvailAccount, core.KindOf(err))
}

func TestManager_NoAvailableAccountWhenNoneConfigured(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(t, factory, nil)
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	_, err := m.Acquire(context.Background(), "")
	assert.Error(t, err)
	assert.Equal(t, core.KindNoAvailAccount, core.KindOf(err))
}

func TestManager_InitializeNotifiesBreakerOnTotalFailure(t *testing.T) {
	factory := &fakeFactory{failAcct: "acct_a"}
	reg := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 1, Window: time.Minute, Cooldown: time.Hour,
		MaxBackoff: time.Hour, SuccessThreshold: 1, ProbeTimeout: time.Second,
	}, slog.Default(), 0)
	v := vault.New(testConfigs(), reg)
	cfg := DefaultConfig()
	cfg.MinSize = 1
	cfg.HealthInterval = time.Hour
	m := New(cfg, factory, v, reg, slog.Default())

	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	assert.Equal(t, core.CircuitOpen, reg.For("acct_a").State())
}

func TestManager_AcquirePreferredSkipsAccountWithOpenCircuit(t *testing.T) {
	factory := &fakeFactory{}
	reg := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 1, Window: time.Minute, Cooldown: time.Hour,
		MaxBackoff: time.Hour, SuccessThreshold: 1, ProbeTimeout: time.Second,
	}, slog.Default(), 0)
	configs := []core.AccountConfig{
		{Username: "acct_a", Priority: 1, MaxConns: 2},
		{Username: "acct_b", Priority: 2, MaxConns: 2},
	}
	v := vault.New(configs, reg)
	cfg := DefaultConfig()
	cfg.MinSize = 1
	cfg.HealthInterval = time.Hour
	m := New(cfg, factory, v, reg, slog.Default())

	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	reg.For("acct_a").RecordFailure()
	require.Equal(t, core.CircuitOpen, reg.For("acct_a").State())

	conn, err := m.Acquire(context.Background(), "acct_a")
	require.NoError(t, err)
	assert.Equal(t, "acct_b", conn.Account())
}
