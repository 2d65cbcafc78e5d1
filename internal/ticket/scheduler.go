// Package ticket implements the asynchronous query ticket scheduler
// (C9): a pending FIFO, a bounded-concurrency dispatch loop, byte-cap
// result truncation, and a background scavenger. Grounded on the
// worker-pool-over-channel shape of
// internal/infrastructure/publishing/queue.go (Submit/worker/Start/Stop),
// collapsed from that file's three priority tiers to a single FIFO
// channel since spec.md's C9 has no priority concept, and with the
// per-target retry/circuit-breaker logic replaced by a single pass
// through C3+C4+C5+C2 per ticket (retry is the caller's job here, not
// the scheduler's).
package ticket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/realtime"
	"github.com/cdeskio/activity-gateway/internal/registry"
	"github.com/cdeskio/activity-gateway/internal/tag"
)

// Config parameterizes dispatch concurrency, the per-query deadline, and retention.
type Config struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Deadline      time.Duration `mapstructure:"deadline"`
	Retention     time.Duration `mapstructure:"retention"`
	Headroom      int64         `mapstructure:"headroom"`
}

// DefaultConfig mirrors spec.md §4.9's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 5,
		Deadline:      30 * time.Second,
		Retention:     time.Hour,
		Headroom:      200,
	}
}

// ConnectionLayer is the subset of core.ConnectionLayer the scheduler needs.
type ConnectionLayer interface {
	Acquire(ctx context.Context, preferred string) (core.Conn, error)
	Release(conn core.Conn)
}

// Scheduler owns the ticket map, the pending FIFO, and the running set.
type Scheduler struct {
	cfg       Config
	conns     ConnectionLayer
	registry  *registry.Registry
	tags      *tag.Generator
	publisher *realtime.EventPublisher
	logger    *slog.Logger

	mu      sync.Mutex
	tickets map[string]*core.Ticket
	running map[string]struct{}

	pending   chan string
	dispatchOn sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Scheduler. The dispatch loop and scavenger are
// started lazily on the first Create call / explicit Start call.
func New(cfg Config, conns ConnectionLayer, reg *registry.Registry, tags *tag.Generator, publisher *realtime.EventPublisher, logger *slog.Logger) *Scheduler {
	d := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = d.MaxConcurrent
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = d.Deadline
	}
	if cfg.Retention <= 0 {
		cfg.Retention = d.Retention
	}
	if cfg.Headroom <= 0 {
		cfg.Headroom = d.Headroom
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		conns:     conns,
		registry:  reg,
		tags:      tags,
		publisher: publisher,
		logger:    logger.With("component", "ticket_scheduler"),
		tickets:   make(map[string]*core.Ticket),
		running:   make(map[string]struct{}),
		pending:   make(chan string, 1<<16),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the dispatch workers and the scavenger. Idempotent.
func (s *Scheduler) Start() {
	s.dispatchOn.Do(func() {
		for i := 0; i < s.cfg.MaxConcurrent; i++ {
			s.wg.Add(1)
			go s.worker()
		}
		s.wg.Add(1)
		go s.scavengeLoop()
	})
}

// Close stops the dispatch workers and scavenger.
func (s *Scheduler) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// Create allocates a ticket in pending, appends it to the FIFO, and
// ensures the dispatch loop is running.
func (s *Scheduler) Create(templateName string, params []any, byteCap int64) (string, error) {
	if s.registry != nil {
		if _, err := s.registry.Get(templateName); err != nil {
			return "", err
		}
	}

	s.Start()

	t := &core.Ticket{
		ID:           uuid.NewString(),
		State:        core.TicketPending,
		TemplateName: templateName,
		Params:       params,
		ByteCap:      byteCap,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	s.tickets[t.ID] = t
	s.mu.Unlock()

	select {
	case s.pending <- t.ID:
	default:
		s.mu.Lock()
		t.State = core.TicketFailed
		t.Err = "ticket queue is full"
		s.mu.Unlock()
		return "", core.NewError(core.KindBackpressure, "ticket queue is full")
	}

	return t.ID, nil
}

// Status returns a copy of the ticket's current state.
func (s *Scheduler) Status(ticketID string) (core.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return core.Ticket{}, core.Newf(core.KindValidation, "unknown ticket %q", ticketID)
	}
	return *t, nil
}

// Cancel transitions a ticket to cancelled, but only while still pending.
func (s *Scheduler) Cancel(ticketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok || t.State != core.TicketPending {
		return false
	}
	t.State = core.TicketCancelled
	now := time.Now()
	t.CompletedAt = &now
	return true
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case id, ok := <-s.pending:
			if !ok {
				return
			}
			s.dispatch(id)
		}
	}
}

func (s *Scheduler) dispatch(id string) {
	s.mu.Lock()
	t, ok := s.tickets[id]
	if !ok || t.State != core.TicketPending {
		s.mu.Unlock()
		return // cancelled while queued, or unknown
	}
	t.State = core.TicketRunning
	now := time.Now()
	t.StartedAt = &now
	s.running[id] = struct{}{}
	s.mu.Unlock()

	s.publish(t)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Deadline)
	defer cancel()

	conn, err := s.conns.Acquire(ctx, "")
	if err != nil {
		s.fail(t, err)
		return
	}
	defer s.conns.Release(conn)

	correlationTag, err := s.tags.Next()
	if err != nil {
		s.fail(t, err)
		return
	}
	result, err := s.registry.Execute(ctx, conn, t.TemplateName, t.Params, correlationTag)
	if err != nil {
		s.fail(t, err)
		return
	}

	s.complete(t, result)
}

func (s *Scheduler) fail(t *core.Ticket, err error) {
	s.mu.Lock()
	t.State = core.TicketFailed
	t.Err = err.Error()
	now := time.Now()
	t.CompletedAt = &now
	delete(s.running, t.ID)
	s.mu.Unlock()
	s.publish(t)
}

func (s *Scheduler) complete(t *core.Ticket, result *core.QueryResult) {
	rows := result.Rows
	origCount := len(rows)
	truncated := false

	if t.ByteCap > 0 {
		for {
			payload, err := json.Marshal(rows)
			if err != nil {
				break
			}
			if int64(len(payload)) <= t.ByteCap-s.cfg.Headroom || len(rows) == 0 {
				break
			}
			rows = rows[:len(rows)-1]
			truncated = true
		}
	}

	resultDoc := map[string]any{"rows": rows}
	if truncated {
		resultDoc["truncated"] = true
		resultDoc["original_rows"] = origCount
		resultDoc["returned_rows"] = len(rows)
	}

	payload, _ := json.Marshal(resultDoc)

	s.mu.Lock()
	t.State = core.TicketCompleted
	t.Result = resultDoc
	t.ResultSize = int64(len(payload))
	t.Truncated = truncated
	t.OrigRows = origCount
	t.RetRows = len(rows)
	now := time.Now()
	t.CompletedAt = &now
	delete(s.running, t.ID)
	s.mu.Unlock()

	s.publish(t)
}

func (s *Scheduler) publish(t *core.Ticket) {
	if s.publisher == nil {
		return
	}
	s.mu.Lock()
	snapshot := *t
	s.mu.Unlock()
	_ = s.publisher.PublishTicketStateChanged(&snapshot)
}

func (s *Scheduler) scavengeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scavenge()
		}
	}
}

func (s *Scheduler) scavenge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.cfg.Retention)
	for id, t := range s.tickets {
		if t.State.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(s.tickets, id)
		}
	}
}

// RunningCount reports the current size of the running set, which
// spec.md's invariant requires always equals len(running).
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
