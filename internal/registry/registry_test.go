package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/cdeskio/activity-gateway/internal/core"
)

func TestNew_BuildsDefaultTemplates(t *testing.T) {
	reg, err := New(BuildDefaultTemplates(DefaultTableNames()))
	require.NoError(t, err)

	names := reg.List()
	assert.Contains(t, names, "append_event")
	assert.Contains(t, names, "health_probe")
	assert.Contains(t, names, "read_provenance")
}

func TestNew_RejectsParameterizedWithoutPlaceholder(t *testing.T) {
	bad := core.Template{
		Name:      "bad",
		Arity:     1,
		SQL:       "SELECT 1",
		Validator: BuildValidator([]ParamSpec{{Name: "x", Rule: "required"}}),
	}
	_, err := New([]core.Template{bad})
	assert.Error(t, err)
	assert.Equal(t, core.KindConfig, core.KindOf(err))
}

func TestNew_RejectsMissingValidator(t *testing.T) {
	bad := core.Template{Name: "bad", SQL: "SELECT 1"}
	_, err := New([]core.Template{bad})
	assert.Error(t, err)
}

func TestNew_RejectsConcatenationMarkers(t *testing.T) {
	bad := core.Template{
		Name:      "bad",
		SQL:       "SELECT * FROM t WHERE x = %s",
		Validator: BuildValidator(nil),
	}
	_, err := New([]core.Template{bad})
	assert.Error(t, err)
}

func TestNew_RejectsDuplicateName(t *testing.T) {
	tpl := core.Template{Name: "dup", SQL: "SELECT 1", Validator: BuildValidator(nil)}
	_, err := New([]core.Template{tpl, tpl})
	assert.Error(t, err)
}

func TestExecute_ValidationFailureNeverReachesConn(t *testing.T) {
	reg, err := New(BuildDefaultTemplates(DefaultTableNames()))
	require.NoError(t, err)

	conn := &spyConn{}
	_, err = reg.Execute(context.Background(), conn, "read_context", []any{""}, "cdesk_0000000000000000")

	assert.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Equal(t, 0, conn.execCalls)
}

func TestExecute_ValidParamsReachConn(t *testing.T) {
	reg, err := New(BuildDefaultTemplates(DefaultTableNames()))
	require.NoError(t, err)

	conn := &spyConn{}
	_, err = reg.Execute(context.Background(), conn, "read_context", []any{"cust_123"}, "cdesk_0123456789abcdef")

	assert.NoError(t, err)
	assert.Equal(t, 1, conn.execCalls)
}

func TestValidateParam_RejectsInjectionCharacters(t *testing.T) {
	specs := []ParamSpec{{Name: "customer", Rule: String(256)}}
	validate := BuildValidator(specs)

	_, err := validate([]any{"cust'; DROP TABLE activity_events;--"})
	assert.Error(t, err)
}

func TestValidateParam_RejectsMalformedUUID(t *testing.T) {
	specs := []ParamSpec{{Name: "id", Rule: UUID}}
	validate := BuildValidator(specs)

	_, err := validate([]any{"not-a-uuid"})
	assert.Error(t, err)
}

func TestValidateParam_RejectsOutOfBoundsNumber(t *testing.T) {
	specs := []ParamSpec{{Name: "limit", Rule: NumericBounds(1, 10000)}}
	validate := BuildValidator(specs)

	_, err := validate([]any{20000})
	assert.Error(t, err)
}

func TestValidateParam_RejectsMalformedDocument(t *testing.T) {
	specs := []ParamSpec{{Name: "document", Custom: Document}}
	validate := BuildValidator(specs)

	_, err := validate([]any{"not a document"})
	assert.Error(t, err)

	_, err = validate([]any{map[string]any{}})
	assert.Error(t, err) // empty document rejected
}

type spyConn struct {
	execCalls int
}

func (c *spyConn) Account() string { return "spy" }
func (c *spyConn) Exec(ctx context.Context, sql, tag string, params []any) (*core.QueryResult, error) {
	c.execCalls++
	return &core.QueryResult{}, nil
}
func (c *spyConn) Ping(ctx context.Context) error { return nil }
func (c *spyConn) Close() error                   { return nil }
