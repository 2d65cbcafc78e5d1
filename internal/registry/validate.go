// Package registry is the template registry (C2): the only legal path
// to the warehouse. Parameter validation is grounded on the
// go-playground/validator/v10 usage in internal/infrastructure/webhook/validator.go
// (a validator.Validate instance with registered custom tag functions),
// adapted from struct-tag validation to per-parameter positional
// validation via validator.Var, since templates bind a flat []any
// vector rather than a decoded struct.
package registry

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/cdeskio/activity-gateway/internal/core"
)

var std = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cdesk_tag", validateCorrelationTag)
	return v
}

var correlationTagPattern = regexp.MustCompile(`^cdesk_[0-9a-f]{16}$`)

func validateCorrelationTag(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	return ok && correlationTagPattern.MatchString(s)
}

// ParamSpec describes one positional bind parameter's validation rule.
type ParamSpec struct {
	Name string
	// Rule is a go-playground/validator tag expression, e.g.
	// "required,max=256,excludesall=<>;--" or "required,uuid4" or "required,url".
	Rule string
	// Custom, if set, runs after Rule passes and can reject/normalize the value.
	Custom func(v any) (any, error)
}

// String is the charset/length rule every identifier-like parameter gets:
// bounded length plus a rejection list of SQL/script injection characters.
func String(maxLen int) string {
	return fmt.Sprintf("required,max=%d,excludesall=<>;\"'`\\", maxLen)
}

// CheckString validates a bare string against the same charset/length
// rule a "customer"-shaped template parameter gets, for callers that
// need to reject an injection-shaped value before a template (and
// therefore a warehouse call) is ever reached.
func CheckString(name, value string, maxLen int) error {
	if err := std.Var(value, String(maxLen)); err != nil {
		return core.ValidationErr(name, err.Error())
	}
	return nil
}

// UUID requires a well-formed UUID.
const UUID = "required,uuid4"

// URLParam requires well-formed link syntax.
const URLParam = "required,url"

// NumericBounds builds a finite-numeric-bound rule.
func NumericBounds(min, max float64) string {
	return fmt.Sprintf("required,gte=%v,lte=%v", min, max)
}

// Document validates that v is a non-nil, well-formed opaque document
// (a JSON-object-shaped map) — go-playground/validator has no native
// "is a sane map" tag, so this is a small hand-written check rather
// than a Rule string.
func Document(v any) (any, error) {
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("must be a document (object)")
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("document must not be empty")
	}
	return doc, nil
}

// validateParam runs a single ParamSpec against one positional value.
func validateParam(spec ParamSpec, value any) (any, error) {
	if spec.Rule != "" {
		var toCheck any = value
		if s, ok := value.(string); ok {
			toCheck = s
		}
		if err := std.Var(toCheck, spec.Rule); err != nil {
			return nil, core.ValidationErr(spec.Name, err.Error())
		}
	}
	if spec.Custom != nil {
		out, err := spec.Custom(value)
		if err != nil {
			return nil, core.ValidationErr(spec.Name, err.Error())
		}
		return out, nil
	}
	return value, nil
}

// BuildValidator turns a slice of ParamSpec into the core.Template.Validator
// function: arity-checked, each positional value validated in order.
func BuildValidator(specs []ParamSpec) func(params []any) ([]any, error) {
	return func(params []any) ([]any, error) {
		if len(params) != len(specs) {
			return nil, core.Newf(core.KindValidation, "expected %d parameters, got %d", len(specs), len(params))
		}
		out := make([]any, len(params))
		for i, spec := range specs {
			v, err := validateParam(spec, params[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
}

// isWellFormedURL is used by templates that want a stricter check than
// the "url" validator tag alone (e.g. requiring an explicit scheme).
func isWellFormedURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
