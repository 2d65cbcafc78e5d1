package breaker

import (
	"log/slog"
	"sync"
)

// Registry holds one Breaker per warehouse account username. C3 and C5
// consult it by username. C6 builds its aggregated health view by
// polling breaker state; it does not read Notifications().
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	logger   *slog.Logger
	breakers map[string]*Breaker
	notify   chan Notification
}

// NewRegistry creates an empty registry. notifyBuffer sizes the shared
// notification channel; when the channel is full the new notification
// is dropped rather than blocking a breaker's hot path.
func NewRegistry(cfg Config, logger *slog.Logger, notifyBuffer int) *Registry {
	if notifyBuffer <= 0 {
		notifyBuffer = 256
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*Breaker),
		notify:   make(chan Notification, notifyBuffer),
	}
}

// For returns the breaker for username, creating one in the closed
// state on first use.
func (r *Registry) For(username string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[username]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[username]; ok {
		return b
	}
	b = newBreaker(username, r.cfg, r.logger, r.notify)
	r.breakers[username] = b
	return b
}

// CanExecute is a convenience wrapper over For(username).CanExecute().
func (r *Registry) CanExecute(username string) bool {
	return r.For(username).CanExecute()
}

// Notifications exposes the shared stream of stateChange/success/failure
// events. No component in this module reads it.
func (r *Registry) Notifications() <-chan Notification {
	return r.notify
}

// Snapshot returns each known account's current state, for admin/health use.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for username, b := range r.breakers {
		out[username] = string(b.State())
	}
	return out
}
