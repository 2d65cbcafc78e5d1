package core

import "context"

// Conn is a single warehouse connection handle, owned by exactly one
// account's pool at a time (§3 Connection).
type Conn interface {
	// Account is the username this connection belongs to.
	Account() string
	// Exec runs validated SQL with bind parameters and a session
	// correlation tag, returning the generic result shape.
	Exec(ctx context.Context, sql string, tag string, params []any) (*QueryResult, error)
	// Ping performs the trivial health probe used by the pool's health loop.
	Ping(ctx context.Context) error
	// Close releases any underlying network resource.
	Close() error
}

// ConnFactory opens a new Conn for the given account config. It is the
// seam the connection pool manager uses to reach the actual warehouse
// client library; tests substitute a fake.
type ConnFactory interface {
	Dial(ctx context.Context, acct AccountConfig) (Conn, error)
}

// ConnectionLayer is the single interface every connection layer variant
// exposes (§9 "inheritance-like polymorphism over accounts" design note):
// initialize, acquire/release, executeTemplate, close, stats, and the
// optional admin capabilities health/unlock/rotate. The core dispatcher
// depends only on this interface, never on a concrete pool/vault/breaker
// triangle.
type ConnectionLayer interface {
	Initialize(ctx context.Context) error
	Acquire(ctx context.Context, preferred string) (Conn, error)
	Release(conn Conn)
	ExecuteTemplate(ctx context.Context, name string, params []any, tag string) (*QueryResult, error)
	Close() error
	Stats() map[string]any

	// Optional admin capabilities.
	Health(ctx context.Context) map[string]any
	Unlock(username string) error
	Rotate() error
}
