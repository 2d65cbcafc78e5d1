package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdeskio/activity-gateway/internal/cache"
	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/ingest"
	"github.com/cdeskio/activity-gateway/internal/metrics"
	"github.com/cdeskio/activity-gateway/internal/registry"
	"github.com/cdeskio/activity-gateway/internal/tag"
	"github.com/cdeskio/activity-gateway/internal/ticket"
)

type fakeConn struct{ rows []map[string]any }

func (c *fakeConn) Account() string { return "acct" }
func (c *fakeConn) Exec(ctx context.Context, sql, tag string, params []any) (*core.QueryResult, error) {
	return &core.QueryResult{Rows: c.rows, RowCount: len(c.rows)}, nil
}
func (c *fakeConn) Ping(ctx context.Context) error { return nil }
func (c *fakeConn) Close() error                   { return nil }

type fakeConnLayer struct {
	rows     []map[string]any
	acquires int
	released int
	acquireErr error
}

func (f *fakeConnLayer) Acquire(ctx context.Context, preferred string) (core.Conn, error) {
	f.acquires++
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &fakeConn{rows: f.rows}, nil
}
func (f *fakeConnLayer) Release(conn core.Conn) { f.released++ }

func newTestDispatcher(t *testing.T, conns *fakeConnLayer) *Dispatcher {
	t.Helper()

	logPath := t.TempDir()
	log, err := ingest.Open(ingest.DefaultConfig(logPath), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	ctxCache, err := cache.New(cache.DefaultConfig(), nil, cache.NewMetrics("dispatcher_test_"+t.Name()))
	require.NoError(t, err)
	t.Cleanup(ctxCache.Close)

	reg, err := registry.New(registry.BuildDefaultTemplates(registry.DefaultTableNames()))
	require.NoError(t, err)

	tags, err := tag.New()
	require.NoError(t, err)

	tickets := ticket.New(ticket.DefaultConfig(), conns, reg, tags, nil, nil)
	t.Cleanup(tickets.Close)

	m := metrics.New("dispatcher_test_"+t.Name(), ToolNames, time.Hour, nil)

	return New(Config{}, log, ctxCache, conns, reg, tickets, tags, m, nil)
}

func TestLogEvent_NormalizesUnnamespacedActivity(t *testing.T) {
	d := newTestDispatcher(t, &fakeConnLayer{})
	resp, err := d.LogEvent(context.Background(), "user_asked", nil, "")
	require.NoError(t, err)
	assert.Equal(t, true, resp["ok"])
	assert.NotEmpty(t, resp["event_id"])
	assert.NotEmpty(t, resp["tag"])
}

func TestLogEvent_RejectsMalformedActivityAfterNormalization(t *testing.T) {
	d := newTestDispatcher(t, &fakeConnLayer{})
	_, err := d.LogEvent(context.Background(), "User Asked!", nil, "")
	assert.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestLogInsight_RejectsBadProvenanceHash(t *testing.T) {
	d := newTestDispatcher(t, &fakeConnLayer{})
	_, err := d.LogInsight(context.Background(), "cust_1", "latency_ms", 42, "not-hex")
	assert.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestLogInsight_AcceptsValidProvenanceHash(t *testing.T) {
	d := newTestDispatcher(t, &fakeConnLayer{})
	resp, err := d.LogInsight(context.Background(), "cust_1", "latency_ms", 42, "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, true, resp["ok"])
}

func TestLogInsight_SubmitsProvenanceTicketLinkingHashToQueryTag(t *testing.T) {
	conns := &fakeConnLayer{}
	d := newTestDispatcher(t, conns)

	_, err := d.LogInsight(context.Background(), "cust_1", "latency_ms", 42, "0123456789abcdef")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return conns.acquires >= 1 }, time.Second, 5*time.Millisecond)
}

func TestGetContext_MissFetchesFromWarehouseAndPopulatesCache(t *testing.T) {
	conns := &fakeConnLayer{rows: []map[string]any{{"customer": "cust_1", "document": map[string]any{"plan": "pro"}}}}
	d := newTestDispatcher(t, conns)

	resp, err := d.GetContext(context.Background(), "cust_1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, conns.acquires)
	assert.Equal(t, 1, conns.released)
	assert.Equal(t, "cust_1", resp["customer_key"])

	// Second call should hit the cache and not touch the warehouse again.
	_, err = d.GetContext(context.Background(), "cust_1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, conns.acquires)
}

func TestGetContext_RejectsEmptyCustomerKey(t *testing.T) {
	d := newTestDispatcher(t, &fakeConnLayer{})
	_, err := d.GetContext(context.Background(), "", 0)
	assert.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestGetContext_RejectsInjectionShapedCustomerKeyBeforeAcquiringConnection(t *testing.T) {
	conns := &fakeConnLayer{}
	d := newTestDispatcher(t, conns)

	_, err := d.GetContext(context.Background(), "'; DROP TABLE X; --", 0)
	assert.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Zero(t, conns.acquires)
}

func TestGetContext_TruncatesDocumentBeyondMaxBytes(t *testing.T) {
	conns := &fakeConnLayer{rows: []map[string]any{{"customer": "cust_1", "document": map[string]any{"plan": "pro", "notes": "a very long string of customer notes"}}}}
	d := newTestDispatcher(t, conns)

	resp, err := d.GetContext(context.Background(), "cust_1", 10)
	require.NoError(t, err)
	assert.Equal(t, true, resp["truncated"])
	assert.NotZero(t, resp["original_size"])
}

func TestSubmitQuery_RejectsUnknownTemplate(t *testing.T) {
	d := newTestDispatcher(t, &fakeConnLayer{})
	_, err := d.SubmitQuery(context.Background(), "no_such_template", nil, 0)
	assert.Error(t, err)
}

func TestSubmitQuery_ReturnsTicketIDAndPendingState(t *testing.T) {
	d := newTestDispatcher(t, &fakeConnLayer{})
	resp, err := d.SubmitQuery(context.Background(), "health_probe", nil, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, resp["ticket_id"])
	assert.Contains(t, []string{string(core.TicketPending), string(core.TicketRunning), string(core.TicketCompleted)}, resp["state"])
}
