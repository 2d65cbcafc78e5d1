// Package pgxconn is the production core.ConnFactory: it opens one
// pgx.Conn per account, over the Postgres wire protocol the teacher's
// own warehouse driver uses (internal/database/postgres/pool.go), and
// rewrites this gateway's "?" bind-placeholder convention into pgx's
// positional $1, $2, ... syntax before execution. pgxpool itself is not
// used here (internal/pool owns pooling), but its ParseConfig shape is
// reused to build the per-connection pgx.ConnConfig.
package pgxconn

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/cdeskio/activity-gateway/internal/core"
)

// Factory dials a pgx connection per account using that account's
// AccountConfig fields as connection parameters.
type Factory struct {
	// Host and Port locate the warehouse endpoint; buildDSN falls back to
	// localhost and 5432 when they are unset. The account name, secret,
	// database, and schema come from each account's AccountConfig.
	Host string
	Port int
}

// Dial opens a new physical connection for acct.
func (f *Factory) Dial(ctx context.Context, acct core.AccountConfig) (core.Conn, error) {
	dsn := f.buildDSN(acct)
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, core.Wrap(core.KindConfig, err)
	}
	cfg.RuntimeParams["application_name"] = "activity-gateway:" + acct.Username

	pgc, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, core.Wrap(core.KindWarehouse, err).WithRetryable(true)
	}

	return &conn{account: acct.Username, pgc: pgc}, nil
}

func (f *Factory) buildDSN(acct core.AccountConfig) string {
	host := f.Host
	if host == "" {
		host = "localhost"
	}
	port := f.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?search_path=%s",
		acct.Account, acct.Secret, host, port, acct.Database, acct.Schema,
	)
}

type conn struct {
	account string
	pgc     *pgx.Conn
}

func (c *conn) Account() string { return c.account }

func (c *conn) Ping(ctx context.Context) error { return c.pgc.Ping(ctx) }

func (c *conn) Close() error { return c.pgc.Close(context.Background()) }

// Exec sets the session correlation tag (C1's output) via
// application_name-style SET, rewrites the "?" placeholders to $N, and
// binds params positionally — never formatted into SQL text.
func (c *conn) Exec(ctx context.Context, sqlText, tag string, params []any) (*core.QueryResult, error) {
	if _, err := c.pgc.Exec(ctx, "SET application_name = $1", "activity-gateway:"+tag); err != nil {
		return nil, core.Wrap(core.KindWarehouse, err)
	}

	rewritten := rewritePlaceholders(sqlText)

	rows, err := c.pgc.Query(ctx, rewritten, params...)
	if err != nil {
		return nil, core.Wrap(core.KindWarehouse, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, core.Wrap(core.KindWarehouse, err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.KindWarehouse, err)
	}

	return &core.QueryResult{Rows: result, RowCount: len(result)}, nil
}

// rewritePlaceholders converts sequential "?" binds into pgx's $1, $2, ...
// positional syntax, respecting single-quoted string literals so a "?"
// inside a literal is never rewritten.
func rewritePlaceholders(sqlText string) string {
	var b strings.Builder
	n := 0
	inString := false
	for i := 0; i < len(sqlText); i++ {
		ch := sqlText[i]
		switch {
		case ch == '\'':
			inString = !inString
			b.WriteByte(ch)
		case ch == '?' && !inString:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

var _ core.ConnFactory = (*Factory)(nil)
var _ core.Conn = (*conn)(nil)
