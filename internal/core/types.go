// Package core holds the domain types shared by every component of the
// activity-telemetry gateway: events, context entries, tickets, accounts,
// circuit state, connections and templates.
package core

import "time"

// Event is the unit appended to the durable ingest log.
type Event struct {
	ID                   string         `json:"id"`
	Activity             string         `json:"activity"`
	CustomerKey          string         `json:"customer_key"`
	Timestamp            time.Time      `json:"ts"`
	Link                 string         `json:"link,omitempty"`
	RevenueImpact        *float64       `json:"revenue_impact,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	SessionKey           string         `json:"session_key,omitempty"`
	CorrelationTag       string         `json:"correlation_tag"`
	Occurrence           int            `json:"occurrence"`
	PreviousOccurrenceTS *time.Time     `json:"previous_occurrence_ts,omitempty"`
}

// ContextEntry is the per-customer opaque document cached by C8.
type ContextEntry struct {
	CustomerKey string         `json:"customer_key"`
	Document    map[string]any `json:"document"`
	WrittenAt   time.Time      `json:"written_at"`
}

// TicketState is the lifecycle state of an asynchronous query ticket.
type TicketState string

const (
	TicketPending   TicketState = "pending"
	TicketRunning   TicketState = "running"
	TicketCompleted TicketState = "completed"
	TicketFailed    TicketState = "failed"
	TicketCancelled TicketState = "cancelled"
)

// IsTerminal reports whether the state is one a ticket can never leave.
func (s TicketState) IsTerminal() bool {
	return s == TicketCompleted || s == TicketFailed || s == TicketCancelled
}

// Ticket is a server-side handle for an asynchronous warehouse query.
type Ticket struct {
	ID           string
	State        TicketState
	TemplateName string
	Params       []any
	ByteCap      int64

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Result     map[string]any
	ResultSize int64
	Truncated  bool
	OrigRows   int
	RetRows    int

	Err string
}

// AccountConfig is the static, operator-supplied shape of a warehouse account.
type AccountConfig struct {
	Username   string `mapstructure:"username"`
	Account    string `mapstructure:"account"`
	Warehouse  string `mapstructure:"warehouse"`
	Database   string `mapstructure:"database"`
	Schema     string `mapstructure:"schema"`
	Role       string `mapstructure:"role"`
	Secret     string `mapstructure:"secret"`
	Priority   int    `mapstructure:"priority"`
	MaxConns   int    `mapstructure:"max_conns"`
	Disabled   bool   `mapstructure:"disabled"`
}

// Account is the runtime bookkeeping record for a warehouse account (C3).
type Account struct {
	Config AccountConfig

	TotalAttempts       int64
	Successes           int64
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	CooldownUntil       time.Time
	Locked              bool
}

// Enabled reports whether this account may currently be considered by next().
func (a *Account) Enabled(now time.Time) bool {
	if a.Config.Disabled || a.Locked {
		return false
	}
	if !a.CooldownUntil.IsZero() && now.Before(a.CooldownUntil) {
		return false
	}
	return true
}

// CircuitState is the per-account finite-state-machine posture (C4).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Template is a fixed, parameterized SQL query with a parameter validator.
type Template struct {
	Name      string
	SQL       string
	Arity     int
	Validator func(params []any) ([]any, error)
}

// QueryResult is the generic shape returned by a warehouse call through
// the template registry.
type QueryResult struct {
	Rows     []map[string]any
	RowCount int
}
