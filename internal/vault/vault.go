// Package vault owns the in-memory, priority-ordered list of warehouse
// accounts (C3): selection, cooldown bookkeeping, and the admin unlock
// path. Grounded on the account-selection shape of the teacher's
// publishing queue target rotation (internal/infrastructure/publishing/queue.go,
// which keeps a per-target circuit breaker map and asks it before
// dispatch) combined with internal/backoff for the cooldown math; no
// teacher file owns a ranked list of credentials directly, so the
// selection/cooldown logic itself is new, built in the teacher's
// mutex-guarded-slice idiom.
package vault

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cdeskio/activity-gateway/internal/backoff"
	"github.com/cdeskio/activity-gateway/internal/breaker"
	"github.com/cdeskio/activity-gateway/internal/core"
)

// defaultMaxConsecutiveFailures is the failure streak at which an account enters cooldown.
const defaultMaxConsecutiveFailures = 3

// Vault holds the ranked account list and their runtime bookkeeping.
type Vault struct {
	mu       sync.Mutex
	accounts []*core.Account // sorted by Config.Priority ascending, stable
	byName   map[string]*core.Account

	maxConsecutiveFailures int
	backoffPolicy          backoff.Policy
	breakers               *breaker.Registry
}

// New builds a Vault from the operator-supplied account configs. Order
// of appearance in configs breaks ties in Priority (stable sort).
func New(configs []core.AccountConfig, breakers *breaker.Registry) *Vault {
	accounts := make([]*core.Account, len(configs))
	byName := make(map[string]*core.Account, len(configs))
	for i, c := range configs {
		a := &core.Account{Config: c}
		accounts[i] = a
		byName[c.Username] = a
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].Config.Priority < accounts[j].Config.Priority
	})

	return &Vault{
		accounts:               accounts,
		byName:                 byName,
		maxConsecutiveFailures: defaultMaxConsecutiveFailures,
		backoffPolicy:          backoff.DefaultPolicy(),
		breakers:               breakers,
	}
}

// WithMaxConsecutiveFailures overrides the cooldown trigger threshold.
func (v *Vault) WithMaxConsecutiveFailures(n int) *Vault {
	v.maxConsecutiveFailures = n
	return v
}

// WithBackoffPolicy overrides the default cooldown-growth policy.
func (v *Vault) WithBackoffPolicy(p backoff.Policy) *Vault {
	v.backoffPolicy = p
	return v
}

// Next returns the lowest-priority-rank account that is enabled, not in
// cooldown, and allowed by its circuit breaker, or nil if none qualify.
// Selection is deterministic given state: accounts are scanned in fixed
// priority order and the first qualifying one wins.
func (v *Vault) Next() *core.Account {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	for _, a := range v.accounts {
		if !a.Enabled(now) {
			continue
		}
		if v.breakers != nil && !v.breakers.CanExecute(a.Config.Username) {
			continue
		}
		return a
	}
	return nil
}

// RecordSuccess resets the failure streak and clears any cooldown.
func (v *Vault) RecordSuccess(username string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	a, ok := v.byName[username]
	if !ok {
		return core.Newf(core.KindConfig, "unknown account %q", username)
	}
	a.TotalAttempts++
	a.Successes++
	a.ConsecutiveFailures = 0
	a.LastSuccess = time.Now()
	a.CooldownUntil = time.Time{}
	return nil
}

// RecordFailure increments the failure streak and, once it reaches the
// threshold, sets a compounding cooldown. The breaker is notified of
// every failure, whether or not a cooldown starts.
func (v *Vault) RecordFailure(username, reason string) error {
	v.mu.Lock()
	a, ok := v.byName[username]
	if !ok {
		v.mu.Unlock()
		return core.Newf(core.KindConfig, "unknown account %q", username)
	}
	a.TotalAttempts++
	a.ConsecutiveFailures++
	a.LastFailure = time.Now()

	if a.ConsecutiveFailures >= v.maxConsecutiveFailures {
		entry := a.ConsecutiveFailures - v.maxConsecutiveFailures + 1
		a.CooldownUntil = time.Now().Add(v.backoffPolicy.Duration(entry))
	}
	_ = reason // retained for logging by the caller; not branched on here
	v.mu.Unlock()

	if v.breakers != nil {
		v.breakers.For(username).RecordFailure()
	}
	return nil
}

// Unlock clears cooldown, failure streak, and lock flag for an account
// (admin path), and resets its circuit breaker.
func (v *Vault) Unlock(username string) error {
	v.mu.Lock()
	a, ok := v.byName[username]
	if !ok {
		v.mu.Unlock()
		return core.Newf(core.KindConfig, "unknown account %q", username)
	}
	a.ConsecutiveFailures = 0
	a.CooldownUntil = time.Time{}
	a.Locked = false
	v.mu.Unlock()

	if v.breakers != nil {
		v.breakers.For(username).Reset()
	}
	return nil
}

// ListAll returns every configured account in priority order.
func (v *Vault) ListAll() []*core.Account {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*core.Account, len(v.accounts))
	copy(out, v.accounts)
	return out
}

// ListActive returns, in priority order, the accounts that are enabled
// and not in cooldown; unlike Next(), it does not consult the breaker.
func (v *Vault) ListActive() []*core.Account {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	out := make([]*core.Account, 0, len(v.accounts))
	for _, a := range v.accounts {
		if a.Enabled(now) {
			out = append(out, a)
		}
	}
	return out
}

// Get returns a single account by username.
func (v *Vault) Get(username string) (*core.Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.byName[username]
	if !ok {
		return nil, core.Newf(core.KindConfig, "unknown account %q", username)
	}
	return a, nil
}

// String summarizes state for admin/debug output.
func (v *Vault) String() string {
	return fmt.Sprintf("vault(%d accounts)", len(v.accounts))
}
