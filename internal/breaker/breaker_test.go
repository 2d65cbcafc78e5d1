package breaker

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/cdeskio/activity-gateway/internal/core"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		Window:           time.Minute,
		Cooldown:         10 * time.Millisecond,
		MaxBackoff:       100 * time.Millisecond,
		SuccessThreshold: 2,
		ProbeTimeout:     20 * time.Millisecond,
	}
}

func TestBreaker_ClosedAllowsExecution(t *testing.T) {
	b := newBreaker("acct_a", testConfig(), slog.Default(), nil)
	assert.True(t, b.CanExecute())
	assert.Equal(t, core.CircuitClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := newBreaker("acct_a", testConfig(), slog.Default(), nil)

	for i := 0; i < 3; i++ {
		assert.True(t, b.CanExecute())
		b.RecordFailure()
	}

	assert.Equal(t, core.CircuitOpen, b.State())
	assert.False(t, b.CanExecute())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cfg := testConfig()
	b := newBreaker("acct_a", cfg, slog.Default(), nil)

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, core.CircuitOpen, b.State())

	time.Sleep(cfg.Cooldown * 2)

	assert.True(t, b.CanExecute())
	assert.Equal(t, core.CircuitHalfOpen, b.State())
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg := testConfig()
	b := newBreaker("acct_a", cfg, slog.Default(), nil)

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	time.Sleep(cfg.Cooldown * 2)
	assertProbeGranted(t, b)

	b.RecordSuccess()
	assert.Equal(t, core.CircuitHalfOpen, b.State())

	assertProbeGranted(t, b)
	b.RecordSuccess()
	assert.Equal(t, core.CircuitClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	b := newBreaker("acct_a", cfg, slog.Default(), nil)

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	time.Sleep(cfg.Cooldown * 2)
	assertProbeGranted(t, b)

	b.RecordFailure()
	assert.Equal(t, core.CircuitOpen, b.State())
}

func TestBreaker_HalfOpenProbeSlotIsExclusive(t *testing.T) {
	cfg := testConfig()
	b := newBreaker("acct_a", cfg, slog.Default(), nil)

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	time.Sleep(cfg.Cooldown * 2)

	assert.True(t, b.CanExecute())  // first probe granted
	assert.False(t, b.CanExecute()) // second caller denied while probe in flight
}

func TestBreaker_ProbeSlotExpiresOnTimeout(t *testing.T) {
	cfg := testConfig()
	b := newBreaker("acct_a", cfg, slog.Default(), nil)

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	time.Sleep(cfg.Cooldown * 2)

	assert.True(t, b.CanExecute())
	time.Sleep(cfg.ProbeTimeout * 2)
	assert.True(t, b.CanExecute()) // slot freed, a fresh probe is granted
}

func TestBreaker_Reset(t *testing.T) {
	cfg := testConfig()
	b := newBreaker("acct_a", cfg, slog.Default(), nil)

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, core.CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, core.CircuitClosed, b.State())
	assert.True(t, b.CanExecute())
}

func TestRegistry_PerAccountIsolation(t *testing.T) {
	reg := NewRegistry(testConfig(), slog.Default(), 0)

	for i := 0; i < 3; i++ {
		reg.For("acct_a").RecordFailure()
	}

	assert.False(t, reg.CanExecute("acct_a"))
	assert.True(t, reg.CanExecute("acct_b"))
}

func TestRegistry_NotificationsEmitted(t *testing.T) {
	reg := NewRegistry(testConfig(), slog.Default(), 16)

	reg.For("acct_a").RecordFailure()

	select {
	case n := <-reg.Notifications():
		assert.Equal(t, "acct_a", n.Username)
		assert.Equal(t, "failure", n.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}
}

func assertProbeGranted(t *testing.T, b *Breaker) {
	t.Helper()
	if !b.CanExecute() {
		t.Fatalf("expected CanExecute to grant a probe slot")
	}
}
