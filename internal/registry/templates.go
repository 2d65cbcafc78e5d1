package registry

import (
	"fmt"

	"github.com/cdeskio/activity-gateway/internal/core"
)

// TableNames lets an operator point this gateway at differently-named
// warehouse objects without touching template SQL (spec.md §9 Open
// Question: warehouse naming is left to configuration, not decided in code).
type TableNames struct {
	Events      string
	Context     string
	Insights    string
	IngestDedup string
	Provenance  string
}

// DefaultTableNames matches internal/warehouse/fake's bundled schema.
func DefaultTableNames() TableNames {
	return TableNames{
		Events:      "activity_events",
		Context:     "activity_context",
		Insights:    "activity_insights",
		IngestDedup: "ingest_dedup",
		Provenance:  "activity_provenance",
	}
}

// BuildDefaultTemplates returns the minimum registered template set
// required by spec.md §4.2: append event, append insight, read/write
// context, read recent activities, aggregate activity counts, health
// probe, record/check ingest id, read insights by customer/subject/
// (subject,metric), and append/read provenance.
func BuildDefaultTemplates(t TableNames) []core.Template {
	linkSpec := ParamSpec{
		Name: "link",
		Rule: "omitempty,url",
		Custom: func(v any) (any, error) {
			s, ok := v.(string)
			if !ok || s == "" {
				return "", nil
			}
			if !isWellFormedURL(s) {
				return nil, fmt.Errorf("link must be an absolute URL with scheme and host")
			}
			return s, nil
		},
	}

	return []core.Template{
		{
			Name:  "append_event",
			Arity: 10,
			SQL: fmt.Sprintf(
				`INSERT INTO %s (id, activity, customer, ts, activity_repeated_at, activity_occurrence, link, revenue_impact, _metadata, _correlation_tag) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.Events,
			),
			Validator: BuildValidator([]ParamSpec{
				{Name: "id", Rule: UUID},
				{Name: "activity", Rule: String(256)},
				{Name: "customer", Rule: String(256)},
				{Name: "ts", Rule: "required"},
				{Name: "activity_repeated_at", Rule: "omitempty"},
				{Name: "activity_occurrence", Rule: NumericBounds(0, 1e9)},
				linkSpec,
				{Name: "revenue_impact", Rule: "omitempty"},
				{Name: "metadata", Custom: documentOrNil},
				{Name: "correlation_tag", Rule: "required,cdesk_tag"},
			}),
		},
		{
			Name:  "append_insight",
			Arity: 5,
			SQL: fmt.Sprintf(
				`INSERT INTO %s (id, customer, subject, metric, document, written_at) VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
				t.Insights,
			),
			Validator: BuildValidator([]ParamSpec{
				{Name: "id", Rule: UUID},
				{Name: "customer", Rule: String(256)},
				{Name: "subject", Rule: "omitempty,max=256"},
				{Name: "metric", Rule: "omitempty,max=256"},
				{Name: "document", Custom: Document},
			}),
		},
		{
			Name:  "read_context",
			Arity: 1,
			SQL:   fmt.Sprintf(`SELECT customer, document, written_at FROM %s WHERE customer = ?`, t.Context),
			Validator: BuildValidator([]ParamSpec{
				{Name: "customer", Rule: String(256)},
			}),
		},
		{
			Name:  "write_context",
			Arity: 2,
			SQL: fmt.Sprintf(
				`INSERT INTO %s (customer, document, written_at) VALUES (?, ?, CURRENT_TIMESTAMP)
				 ON CONFLICT(customer) DO UPDATE SET document = excluded.document, written_at = excluded.written_at`,
				t.Context,
			),
			Validator: BuildValidator([]ParamSpec{
				{Name: "customer", Rule: String(256)},
				{Name: "document", Custom: Document},
			}),
		},
		{
			Name:  "read_recent_activities",
			Arity: 2,
			SQL: fmt.Sprintf(
				`SELECT id, activity, customer, ts, link, revenue_impact FROM %s WHERE customer = ? ORDER BY ts DESC LIMIT ?`,
				t.Events,
			),
			Validator: BuildValidator([]ParamSpec{
				{Name: "customer", Rule: String(256)},
				{Name: "limit", Rule: NumericBounds(1, 10000)},
			}),
		},
		{
			Name:  "aggregate_activity_counts",
			Arity: 1,
			SQL: fmt.Sprintf(
				`SELECT activity, COUNT(*) as count FROM %s WHERE customer = ? GROUP BY activity`,
				t.Events,
			),
			Validator: BuildValidator([]ParamSpec{
				{Name: "customer", Rule: String(256)},
			}),
		},
		{
			Name:      "health_probe",
			Arity:     0,
			SQL:       `SELECT 1`,
			Validator: BuildValidator(nil),
		},
		{
			Name:  "record_ingest_id",
			Arity: 1,
			SQL:   fmt.Sprintf(`INSERT INTO %s (ingest_id, seen_at) VALUES (?, CURRENT_TIMESTAMP)`, t.IngestDedup),
			Validator: BuildValidator([]ParamSpec{
				{Name: "ingest_id", Rule: UUID},
			}),
		},
		{
			Name:  "check_ingest_id",
			Arity: 1,
			SQL:   fmt.Sprintf(`SELECT ingest_id FROM %s WHERE ingest_id = ?`, t.IngestDedup),
			Validator: BuildValidator([]ParamSpec{
				{Name: "ingest_id", Rule: UUID},
			}),
		},
		{
			Name:  "read_insights_by_customer",
			Arity: 1,
			SQL:   fmt.Sprintf(`SELECT id, customer, subject, metric, document, written_at FROM %s WHERE customer = ?`, t.Insights),
			Validator: BuildValidator([]ParamSpec{
				{Name: "customer", Rule: String(256)},
			}),
		},
		{
			Name:  "read_insights_by_subject",
			Arity: 1,
			SQL:   fmt.Sprintf(`SELECT id, customer, subject, metric, document, written_at FROM %s WHERE subject = ?`, t.Insights),
			Validator: BuildValidator([]ParamSpec{
				{Name: "subject", Rule: String(256)},
			}),
		},
		{
			Name:  "read_insights_by_subject_metric",
			Arity: 2,
			SQL:   fmt.Sprintf(`SELECT id, customer, subject, metric, document, written_at FROM %s WHERE subject = ? AND metric = ?`, t.Insights),
			Validator: BuildValidator([]ParamSpec{
				{Name: "subject", Rule: String(256)},
				{Name: "metric", Rule: String(256)},
			}),
		},
		{
			Name:  "append_provenance",
			Arity: 4,
			SQL: fmt.Sprintf(
				`INSERT INTO %s (id, customer, correlation_tag, document, written_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
				t.Provenance,
			),
			Validator: BuildValidator([]ParamSpec{
				{Name: "id", Rule: UUID},
				{Name: "customer", Rule: String(256)},
				{Name: "correlation_tag", Rule: "required,cdesk_tag"},
				{Name: "document", Custom: Document},
			}),
		},
		{
			Name:  "read_provenance",
			Arity: 1,
			SQL:   fmt.Sprintf(`SELECT id, customer, correlation_tag, document, written_at FROM %s WHERE customer = ?`, t.Provenance),
			Validator: BuildValidator([]ParamSpec{
				{Name: "customer", Rule: String(256)},
			}),
		},
	}
}

func documentOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return Document(v)
}
