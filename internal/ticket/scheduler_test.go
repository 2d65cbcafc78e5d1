package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/registry"
	"github.com/cdeskio/activity-gateway/internal/tag"
)

func testTagGenerator(t *testing.T) *tag.Generator {
	t.Helper()
	g, err := tag.New()
	require.NoError(t, err)
	return g
}

type fakeConn struct{ account string }

func (c *fakeConn) Account() string { return c.account }
func (c *fakeConn) Exec(ctx context.Context, sql, tag string, params []any) (*core.QueryResult, error) {
	return &core.QueryResult{}, nil
}
func (c *fakeConn) Ping(ctx context.Context) error { return nil }
func (c *fakeConn) Close() error                   { return nil }

type fakeConnLayer struct {
	released int
}

func (f *fakeConnLayer) Acquire(ctx context.Context, preferred string) (core.Conn, error) {
	return &fakeConn{account: "acct"}, nil
}
func (f *fakeConnLayer) Release(conn core.Conn) { f.released++ }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.BuildDefaultTemplates(registry.DefaultTableNames()))
	require.NoError(t, err)
	return reg
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *fakeConnLayer) {
	t.Helper()
	conns := &fakeConnLayer{}
	s := New(cfg, conns, testRegistry(t), testTagGenerator(t), nil, nil)
	t.Cleanup(s.Close)
	return s, conns
}

func TestCreate_RejectsUnknownTemplate(t *testing.T) {
	s, _ := newTestScheduler(t, DefaultConfig())
	_, err := s.Create("no_such_template", nil, 0)
	assert.Error(t, err)
}

func TestCreate_RunsTicketToCompletion(t *testing.T) {
	s, conns := newTestScheduler(t, Config{MaxConcurrent: 1, Deadline: time.Second, Retention: time.Hour, Headroom: 200})

	id, err := s.Create("health_probe", nil, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, _ := s.Status(id)
		return st.State.IsTerminal()
	}, time.Second, 5*time.Millisecond)

	st, err := s.Status(id)
	require.NoError(t, err)
	assert.Equal(t, core.TicketCompleted, st.State)
	assert.Equal(t, 1, conns.released)
}

func TestCancel_OnlySucceedsWhilePending(t *testing.T) {
	// Built directly (bypassing Start/Create) so the dispatch loop never
	// races the cancellation against a pending ticket.
	conns := &fakeConnLayer{}
	s := New(Config{MaxConcurrent: 1, Deadline: time.Second, Retention: time.Hour, Headroom: 200}, conns, testRegistry(t), testTagGenerator(t), nil, nil)

	s.mu.Lock()
	tk := &core.Ticket{ID: "manual", State: core.TicketPending, TemplateName: "health_probe", CreatedAt: time.Now()}
	s.tickets[tk.ID] = tk
	s.mu.Unlock()

	ok := s.Cancel(tk.ID)
	assert.True(t, ok)

	st, _ := s.Status(tk.ID)
	assert.Equal(t, core.TicketCancelled, st.State)

	assert.False(t, s.Cancel(tk.ID))
}

func TestStatus_UnknownTicketErrors(t *testing.T) {
	s, _ := newTestScheduler(t, DefaultConfig())
	_, err := s.Status("does-not-exist")
	assert.Error(t, err)
}

func TestScavenge_PurgesOldTerminalTickets(t *testing.T) {
	s, _ := newTestScheduler(t, Config{MaxConcurrent: 1, Deadline: time.Second, Retention: time.Millisecond, Headroom: 200})

	past := time.Now().Add(-time.Hour)
	s.mu.Lock()
	tk := &core.Ticket{ID: "old", State: core.TicketCompleted, CreatedAt: past, CompletedAt: &past}
	s.tickets[tk.ID] = tk
	s.mu.Unlock()

	s.scavenge()

	_, err := s.Status(tk.ID)
	assert.Error(t, err)
}
