// Package dispatcher implements the tool dispatcher (C10), the sole
// entry point exposed to the external client: four tools (log_event,
// get_context, submit_query, log_insight), each wrapped by input
// validation, C1 correlation-tag allocation, execution, a C11 latency
// sample, and a normalized response. Grounded on the teacher's
// cmd/server/handlers request-handling shape (validate, call a
// business method, write a normalized JSON response) and on
// internal/api/errors for the HTTP error envelope, adapted from the
// teacher's REST-resource vocabulary to this system's four fixed tool
// calls plus the admin surface.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/cdeskio/activity-gateway/internal/cache"
	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/ingest"
	"github.com/cdeskio/activity-gateway/internal/metrics"
	"github.com/cdeskio/activity-gateway/internal/registry"
	"github.com/cdeskio/activity-gateway/internal/tag"
	"github.com/cdeskio/activity-gateway/internal/ticket"
)

const (
	ToolLogEvent    = "log_event"
	ToolGetContext  = "get_context"
	ToolSubmitQuery = "submit_query"
	ToolLogInsight  = "log_insight"
)

// ToolNames is the fixed set passed to metrics.New so C11's label
// surface never grows at runtime.
var ToolNames = []string{ToolLogEvent, ToolGetContext, ToolSubmitQuery, ToolLogInsight}

// budgets mirrors spec.md §4.10's stated per-tool latency budgets. A
// call exceeding its budget is still served; it only logs a warning.
var budgets = map[string]time.Duration{
	ToolLogEvent:    10 * time.Millisecond,
	ToolGetContext:  25 * time.Millisecond,
	ToolSubmitQuery: 50 * time.Millisecond,
	ToolLogInsight:  10 * time.Millisecond,
}

var (
	activityPattern       = regexp.MustCompile(`^cdesk\.[a-z_]+$`)
	provenanceHashPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

const activityPrefix = "cdesk."

// provenanceTagPrefix mirrors internal/tag's own unexported prefix: a
// provenanceHash is the bare 16-hex suffix of a correlationTag, so
// reattaching the prefix recovers the tag a log_insight caller is
// vouching for.
const provenanceTagPrefix = "cdesk_"

// provenanceTemplate names the C2 template used to persist the
// insight-to-query link. Fire-and-forget: a failure to submit the
// provenance ticket never fails the log_insight call itself, matching
// this tool's existing side-effect discipline (see LogInsight).
const provenanceTemplate = "append_provenance"

// ConnectionLayer is the subset of core.ConnectionLayer the dispatcher
// needs for the get_context warehouse fallback path. A smaller
// interface than core.ConnectionLayer on purpose, matching
// internal/ticket's pattern of depending only on Acquire/Release.
type ConnectionLayer interface {
	Acquire(ctx context.Context, preferred string) (core.Conn, error)
	Release(conn core.Conn)
}

// Dispatcher composes C1 (tag), C2 (registry), C5 (connection layer),
// C7 (event log), C8 (context cache), C9 (ticket scheduler), and C11
// (metrics) behind the four tool calls.
type Dispatcher struct {
	log      *ingest.Log
	cache    *cache.Cache
	conns    ConnectionLayer
	registry *registry.Registry
	tickets  *ticket.Scheduler
	tags     *tag.Generator
	metrics  *metrics.Core
	logger   *slog.Logger

	readContextTemplate string
}

// Config carries the few knobs the dispatcher itself owns (as opposed
// to its collaborators' own configs, which are constructed upstream).
type Config struct {
	// ReadContextTemplate names the C2 template used to satisfy a cache
	// miss in get_context. Defaults to "read_context".
	ReadContextTemplate string
}

// New wires the dispatcher from its already-constructed collaborators.
func New(cfg Config, log *ingest.Log, ctxCache *cache.Cache, conns ConnectionLayer, reg *registry.Registry, tickets *ticket.Scheduler, tags *tag.Generator, m *metrics.Core, logger *slog.Logger) *Dispatcher {
	if cfg.ReadContextTemplate == "" {
		cfg.ReadContextTemplate = "read_context"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		log:                 log,
		cache:               ctxCache,
		conns:               conns,
		registry:            reg,
		tickets:             tickets,
		tags:                tags,
		metrics:             m,
		logger:              logger.With("component", "dispatcher"),
		readContextTemplate: cfg.ReadContextTemplate,
	}
}

// record wraps one tool invocation's latency sample and budget check.
// Every tool method calls it once, from a deferred closure
// (`defer func() { d.record(ToolX, start, failed) }()`), so the final
// value of its failed flag is what gets recorded.
func (d *Dispatcher) record(tool string, start time.Time, failed bool) {
	elapsed := time.Since(start)
	if d.metrics != nil {
		d.metrics.Observe(tool, elapsed, failed)
	}
	if budget, ok := budgets[tool]; ok && elapsed > budget {
		d.logger.Warn("tool call exceeded budget", "tool", tool, "elapsed_ms", elapsed.Milliseconds(), "budget_ms", budget.Milliseconds())
	}
}

// normalizeActivity prepends the required namespace prefix when
// missing rather than rejecting the call, per spec.md §4.10/§6: "the
// core never silently rejects an un-namespaced activity; it rewrites
// it."
func normalizeActivity(activity string) string {
	if len(activity) >= len(activityPrefix) && activity[:len(activityPrefix)] == activityPrefix {
		return activity
	}
	return activityPrefix + activity
}

// LogEvent implements the log_event tool. metadata may carry an
// optional "customer_key" entry; spec.md's four-tool surface does not
// list a customerKey parameter for this call, so the customer
// association (required by the warehouse's base event table) is
// carried positionally inside metadata when the caller has one.
func (d *Dispatcher) LogEvent(ctx context.Context, activity string, metadata map[string]any, link string) (_ map[string]any, err error) {
	start := time.Now()
	failed := true
	defer func() { d.record(ToolLogEvent, start, failed) }()

	normalized := normalizeActivity(activity)
	if !activityPattern.MatchString(normalized) {
		return nil, core.ValidationErr("activity", "activity must match cdesk.[a-z_]+ after namespace normalization")
	}

	correlationTag, err := d.tags.Next()
	if err != nil {
		return nil, err
	}

	customerKey, _ := metadata["customer_key"].(string)

	eventID, err := d.log.Append(core.Event{
		Activity:       normalized,
		CustomerKey:    customerKey,
		Link:           link,
		Metadata:       metadata,
		CorrelationTag: correlationTag,
	})
	if err != nil {
		return nil, err
	}

	failed = false
	return map[string]any{"ok": true, "event_id": eventID, "tag": correlationTag}, nil
}

// LogInsight implements the log_insight tool. It writes an
// insight_recorded event to C7 carrying the insight payload, then
// submits an append_provenance ticket linking provenanceHash back to
// the correlationTag of the query that produced it (SPEC_FULL.md
// §3.5). The append_insight/read_insights_by_* templates in C2 remain for
// an operator or downstream job to persist the insight body itself;
// this call only ever writes the provenance link, and never
// synchronously.
func (d *Dispatcher) LogInsight(ctx context.Context, subject, metric string, value any, provenanceHash string) (_ map[string]any, err error) {
	start := time.Now()
	failed := true
	defer func() { d.record(ToolLogInsight, start, failed) }()

	if !provenanceHashPattern.MatchString(provenanceHash) {
		return nil, core.ValidationErr("provenanceHash", "provenanceHash must be exactly 16 lowercase hex characters")
	}

	correlationTag, err := d.tags.Next()
	if err != nil {
		return nil, err
	}

	eventID, err := d.log.Append(core.Event{
		Activity:    activityPrefix + "insight_recorded",
		CustomerKey: subject,
		Metadata: map[string]any{
			"subject":         subject,
			"metric":          metric,
			"value":           value,
			"provenance_hash": provenanceHash,
		},
		CorrelationTag: correlationTag,
	})
	if err != nil {
		return nil, err
	}

	d.recordProvenance(subject, metric, value, provenanceHash)

	failed = false
	return map[string]any{"ok": true, "event_id": eventID, "tag": correlationTag}, nil
}

// recordProvenance submits an append_provenance ticket through C9 so a
// submission competes for query capacity like any other caller's. It
// never blocks or fails log_insight: a submission error is logged and
// dropped.
func (d *Dispatcher) recordProvenance(subject, metric string, value any, provenanceHash string) {
	if d.tickets == nil {
		return
	}

	document := map[string]any{"metric": metric, "value": value}
	params := []any{
		uuid.NewString(),
		subject,
		provenanceTagPrefix + provenanceHash,
		document,
	}

	if _, err := d.tickets.Create(provenanceTemplate, params, 0); err != nil {
		d.logger.Warn("failed to submit provenance ticket", "subject", subject, "provenance_hash", provenanceHash, "error", err)
	}
}

// GetContext implements the get_context tool: a C8 read, falling
// through to one warehouse read via C2+C5 on miss. A failed fallback
// never populates the cache (spec.md §6 side-effect discipline).
func (d *Dispatcher) GetContext(ctx context.Context, customerKey string, maxBytes int64) (_ map[string]any, err error) {
	start := time.Now()
	failed := true
	defer func() { d.record(ToolGetContext, start, failed) }()

	if customerKey == "" {
		return nil, core.ValidationErr("customerKey", "customerKey is required")
	}
	if err := registry.CheckString("customerKey", customerKey, 256); err != nil {
		return nil, err
	}

	var entry core.ContextEntry
	if cached, ok := d.cache.Get(customerKey); ok {
		entry = cached
	} else {
		fetched, ferr := d.fetchContext(ctx, customerKey, start)
		if ferr != nil {
			return nil, ferr
		}
		entry = fetched
		d.cache.Set(customerKey, entry)
	}

	doc := entry.Document
	result := map[string]any{"customer_key": entry.CustomerKey, "document": doc, "written_at": entry.WrittenAt}
	if maxBytes > 0 {
		if payload, merr := json.Marshal(doc); merr == nil && int64(len(payload)) > maxBytes {
			result["document"] = map[string]any{}
			result["truncated"] = true
			result["original_size"] = len(payload)
		}
	}

	failed = false
	return result, nil
}

func (d *Dispatcher) fetchContext(ctx context.Context, customerKey string, started time.Time) (core.ContextEntry, error) {
	remaining := budgets[ToolGetContext] - time.Since(started)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	fetchCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	conn, err := d.conns.Acquire(fetchCtx, "")
	if err != nil {
		return core.ContextEntry{}, err
	}
	defer d.conns.Release(conn)

	correlationTag, err := d.tags.Next()
	if err != nil {
		return core.ContextEntry{}, err
	}

	result, err := d.registry.Execute(fetchCtx, conn, d.readContextTemplate, []any{customerKey}, correlationTag)
	if err != nil {
		return core.ContextEntry{}, err
	}

	if len(result.Rows) == 0 {
		return core.ContextEntry{CustomerKey: customerKey, Document: map[string]any{}, WrittenAt: time.Now()}, nil
	}

	row := result.Rows[0]
	doc := DecodeDocument(row["document"])
	writtenAt, _ := row["written_at"].(time.Time)
	return core.ContextEntry{CustomerKey: customerKey, Document: doc, WrittenAt: writtenAt}, nil
}

// DecodeDocument accepts either a driver-native map (pgx's jsonb
// scan target) or a raw JSON string/[]byte (modernc.org/sqlite has no
// native document type), so get_context behaves the same regardless
// of which core.ConnFactory backs the pool.
func DecodeDocument(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		return val
	case string:
		var doc map[string]any
		if err := json.Unmarshal([]byte(val), &doc); err == nil {
			return doc
		}
	case []byte:
		var doc map[string]any
		if err := json.Unmarshal(val, &doc); err == nil {
			return doc
		}
	}
	return map[string]any{}
}

// SubmitQuery implements the submit_query tool: validate the template
// name exists, create a ticket in C9, and return its id and initial state.
func (d *Dispatcher) SubmitQuery(ctx context.Context, templateName string, params []any, byteCap int64) (_ map[string]any, err error) {
	start := time.Now()
	failed := true
	defer func() { d.record(ToolSubmitQuery, start, failed) }()

	ticketID, err := d.tickets.Create(templateName, params, byteCap)
	if err != nil {
		return nil, err
	}

	st, err := d.tickets.Status(ticketID)
	if err != nil {
		return nil, err
	}

	failed = false
	return map[string]any{"ticket_id": ticketID, "state": string(st.State)}, nil
}
