package vault

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/cdeskio/activity-gateway/internal/breaker"
	"github.com/cdeskio/activity-gateway/internal/core"
)

func testAccounts() []core.AccountConfig {
	return []core.AccountConfig{
		{Username: "svc_low", Priority: 2},
		{Username: "svc_high", Priority: 1},
		{Username: "svc_mid", Priority: 1}, // ties with svc_high, appears after it
	}
}

func TestVault_NextOrdersByPriorityThenStable(t *testing.T) {
	v := New(testAccounts(), nil)

	a := v.Next()
	assert.NotNil(t, a)
	assert.Equal(t, "svc_high", a.Config.Username) // priority 1, first listed
}

func TestVault_NextSkipsDisabled(t *testing.T) {
	configs := testAccounts()
	configs[1].Disabled = true // svc_high
	v := New(configs, nil)

	a := v.Next()
	assert.NotNil(t, a)
	assert.Equal(t, "svc_mid", a.Config.Username)
}

func TestVault_NextReturnsNilWhenNoneQualify(t *testing.T) {
	configs := []core.AccountConfig{{Username: "only", Disabled: true}}
	v := New(configs, nil)
	assert.Nil(t, v.Next())
}

func TestVault_RecordFailureTriggersCooldown(t *testing.T) {
	v := New(testAccounts(), nil).WithMaxConsecutiveFailures(2)

	requireNoError(t, v.RecordFailure("svc_high", "timeout"))
	requireNoError(t, v.RecordFailure("svc_high", "timeout"))

	a, err := v.Get("svc_high")
	assert.NoError(t, err)
	assert.False(t, a.CooldownUntil.IsZero())
	assert.True(t, a.CooldownUntil.After(time.Now()))

	// svc_high is now in cooldown; Next should skip it.
	next := v.Next()
	assert.NotNil(t, next)
	assert.NotEqual(t, "svc_high", next.Config.Username)
}

func TestVault_RecordSuccessClearsCooldown(t *testing.T) {
	v := New(testAccounts(), nil).WithMaxConsecutiveFailures(1)
	requireNoError(t, v.RecordFailure("svc_high", "timeout"))

	a, _ := v.Get("svc_high")
	assert.False(t, a.CooldownUntil.IsZero())

	requireNoError(t, v.RecordSuccess("svc_high"))
	a, _ = v.Get("svc_high")
	assert.True(t, a.CooldownUntil.IsZero())
	assert.Equal(t, 0, a.ConsecutiveFailures)
}

func TestVault_Unlock(t *testing.T) {
	v := New(testAccounts(), nil).WithMaxConsecutiveFailures(1)
	requireNoError(t, v.RecordFailure("svc_high", "timeout"))

	requireNoError(t, v.Unlock("svc_high"))
	a, _ := v.Get("svc_high")
	assert.True(t, a.CooldownUntil.IsZero())
	assert.Equal(t, 0, a.ConsecutiveFailures)
}

func TestVault_NeverReturnsAccountWithOpenCircuit(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 1,
		Window:           time.Minute,
		Cooldown:         time.Hour,
		MaxBackoff:       time.Hour,
		SuccessThreshold: 1,
		ProbeTimeout:     time.Second,
	}, slog.Default(), 0)

	v := New(testAccounts(), reg)
	reg.For("svc_high").RecordFailure() // trips the breaker open

	a := v.Next()
	assert.NotNil(t, a)
	assert.NotEqual(t, "svc_high", a.Config.Username)
}

func TestVault_UnknownAccountErrors(t *testing.T) {
	v := New(testAccounts(), nil)
	_, err := v.Get("nope")
	assert.Error(t, err)
	assert.Equal(t, core.KindConfig, core.KindOf(err))
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
