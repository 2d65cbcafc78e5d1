// Package warmer implements a background loop that keeps the most
// frequently accessed customers' context entries warm in C8 across TTL
// expiry, instead of waiting for a client request to repopulate them.
// Grounded on pkg/history/cache/warmer.go's Warmer shape (ticker loop,
// warm-immediately-on-start, per-cycle logged summary), generalized
// from its fixed set of popular-query shapes to this system's single
// ranked-key source, C8's TopAccessed, and routed through C9 (the
// ticket scheduler) rather than calling the warehouse directly so a
// warming cycle competes for query capacity the same way any other
// caller does.
package warmer

import (
	"context"
	"log/slog"
	"time"

	"github.com/cdeskio/activity-gateway/internal/cache"
	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/dispatcher"
	"github.com/cdeskio/activity-gateway/internal/ticket"
)

// Config controls how many keys are warmed per cycle, how often, and
// how long a single ticket is given to complete before being skipped.
type Config struct {
	TopK          int
	Interval      time.Duration
	PollInterval  time.Duration
	TicketTimeout time.Duration
}

// DefaultConfig mirrors representative production values.
func DefaultConfig() Config {
	return Config{
		TopK:          20,
		Interval:      2 * time.Minute,
		PollInterval:  50 * time.Millisecond,
		TicketTimeout: 5 * time.Second,
	}
}

// Warmer periodically re-fetches the hottest customers' context so a
// cache miss on the client's next call is rare.
type Warmer struct {
	cfg      Config
	cache    *cache.Cache
	tickets  *ticket.Scheduler
	template string
	logger   *slog.Logger
	stopCh   chan struct{}
}

// New builds a Warmer. template names the C2 template used to
// refresh a single customer's context (normally "read_context").
func New(cfg Config, ctxCache *cache.Cache, tickets *ticket.Scheduler, template string, logger *slog.Logger) *Warmer {
	if cfg.TopK <= 0 {
		cfg = DefaultConfig()
	}
	if template == "" {
		template = "read_context"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		cfg:      cfg,
		cache:    ctxCache,
		tickets:  tickets,
		template: template,
		logger:   logger.With("component", "warmer"),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the warming loop until ctx is cancelled or Stop is called.
func (w *Warmer) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.warm(ctx)
	for {
		select {
		case <-ticker.C:
			w.warm(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the warming loop.
func (w *Warmer) Stop() {
	close(w.stopCh)
}

func (w *Warmer) warm(ctx context.Context) {
	start := time.Now()
	keys := w.cache.TopAccessed(w.cfg.TopK)

	warmed := 0
	for _, key := range keys {
		if _, found := w.cache.Get(key); found {
			continue
		}
		if w.warmKey(ctx, key) {
			warmed++
		}
	}

	w.logger.Info("warming cycle complete",
		"warmed", warmed,
		"candidates", len(keys),
		"duration", time.Since(start))
}

func (w *Warmer) warmKey(ctx context.Context, customerKey string) bool {
	ticketID, err := w.tickets.Create(w.template, []any{customerKey}, 0)
	if err != nil {
		w.logger.Warn("failed to submit warming ticket", "customer_key", customerKey, "error", err)
		return false
	}

	deadline := time.Now().Add(w.cfg.TicketTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		t, err := w.tickets.Status(ticketID)
		if err != nil {
			return false
		}
		if !t.State.IsTerminal() {
			time.Sleep(w.cfg.PollInterval)
			continue
		}
		if t.State != core.TicketCompleted {
			w.logger.Warn("warming ticket did not complete", "customer_key", customerKey, "state", t.State, "error", t.Err)
			return false
		}

		rows, _ := t.Result["rows"].([]map[string]any)
		if len(rows) == 0 {
			return false
		}

		doc := dispatcher.DecodeDocument(rows[0]["document"])
		writtenAt, _ := rows[0]["written_at"].(time.Time)
		w.cache.Set(customerKey, core.ContextEntry{
			CustomerKey: customerKey,
			Document:    doc,
			WrittenAt:   writtenAt,
		})
		return true
	}

	w.logger.Warn("warming ticket timed out", "customer_key", customerKey)
	return false
}
