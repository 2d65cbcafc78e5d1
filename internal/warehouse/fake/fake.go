// Package fake provides an in-process, SQLite-backed stand-in for the
// external data warehouse (spec.md's warehouse is explicitly external
// and out of scope to operate; per the ambient test-tooling section,
// tests and local runs use this reference double instead of a
// containerized dependency). Grounded on internal/storage/sqlite's
// package doc conventions (WAL mode, secure file perms, thread-safety
// bullets) and its NewSQLiteStorage path-validation/PRAGMA setup, but
// the schema and queries are this domain's event/context/insight/
// provenance/ingest-dedup tables rather than alert rows.
package fake

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/cdeskio/activity-gateway/internal/core"
)

// schema matches the base event table, context table, insight table,
// ingest-dedup table, and provenance table described in spec.md §6.
const schema = `
CREATE TABLE IF NOT EXISTS activity_events (
	id TEXT PRIMARY KEY,
	activity TEXT NOT NULL,
	customer TEXT NOT NULL,
	ts TEXT NOT NULL,
	activity_repeated_at TEXT,
	activity_occurrence INTEGER NOT NULL DEFAULT 0,
	link TEXT,
	revenue_impact REAL,
	_metadata TEXT,
	_source_system TEXT,
	_source_version TEXT,
	_session_id TEXT,
	_correlation_tag TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_customer ON activity_events(customer);

CREATE TABLE IF NOT EXISTS activity_context (
	customer TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	written_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activity_insights (
	id TEXT PRIMARY KEY,
	customer TEXT NOT NULL,
	subject TEXT,
	metric TEXT,
	document TEXT NOT NULL,
	written_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insights_customer ON activity_insights(customer);
CREATE INDEX IF NOT EXISTS idx_insights_subject ON activity_insights(subject);
CREATE INDEX IF NOT EXISTS idx_insights_subject_metric ON activity_insights(subject, metric);

CREATE TABLE IF NOT EXISTS ingest_dedup (
	ingest_id TEXT PRIMARY KEY,
	seen_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activity_provenance (
	id TEXT PRIMARY KEY,
	customer TEXT NOT NULL,
	correlation_tag TEXT NOT NULL,
	document TEXT NOT NULL,
	written_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provenance_customer ON activity_provenance(customer);
`

// Warehouse is a single in-process fake warehouse instance. Tests
// typically create one and dial against it through Factory for every
// fake account, so all accounts see the same underlying tables (the
// real warehouse is a single external system regardless of which
// account authenticates to it).
type Warehouse struct {
	mu sync.Mutex
	db *sql.DB
}

// New opens (or creates) the warehouse at path; use ":memory:" for an
// ephemeral per-test instance.
func New(path string) (*Warehouse, error) {
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("invalid path contains '..': %s", path)
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Warehouse{db: db}, nil
}

// Close releases the underlying database handle.
func (w *Warehouse) Close() error { return w.db.Close() }

// Factory implements core.ConnFactory against a single in-process
// Warehouse; every dialed Conn shares the same *sql.DB, mirroring how
// every configured account ultimately reaches the same external
// warehouse cluster.
type Factory struct {
	Warehouse *Warehouse
}

// Dial returns a Conn bound to acct.Username but backed by the shared database.
func (f *Factory) Dial(ctx context.Context, acct core.AccountConfig) (core.Conn, error) {
	if err := f.Warehouse.db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &conn{account: acct.Username, db: f.Warehouse.db}, nil
}

type conn struct {
	account string
	db      *sql.DB
}

func (c *conn) Account() string { return c.account }

func (c *conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *conn) Close() error { return nil } // shared *sql.DB outlives any single Conn

// Exec runs validated SQL with "?" placeholders (SQLite's native
// positional syntax needs no rewriting) and a session tag that is
// recorded only for parity with the real driver's session-tag
// mechanism; SQLite has no session variable to set it into.
func (c *conn) Exec(ctx context.Context, sqlText, tag string, params []any) (*core.QueryResult, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(sqlText))
	if strings.HasPrefix(trimmed, "SELECT") {
		return c.query(ctx, sqlText, params)
	}

	res, err := c.db.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &core.QueryResult{RowCount: int(affected)}, nil
}

func (c *conn) query(ctx context.Context, sqlText string, params []any) (*core.QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &core.QueryResult{Rows: result, RowCount: len(result)}, nil
}

var _ core.ConnFactory = (*Factory)(nil)
var _ core.Conn = (*conn)(nil)
