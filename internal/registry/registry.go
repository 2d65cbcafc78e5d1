package registry

import (
	"context"
	"strings"

	"github.com/cdeskio/activity-gateway/internal/core"
)

// Registry holds the fixed set of templates permitted to reach the
// warehouse. Construction fails hard (ConfigError) if any template is
// unparameterized, built by concatenation, or missing a validator,
// per spec.md §4.2.
type Registry struct {
	templates map[string]core.Template
	order     []string
}

// Register adds one template after validating its shape.
func (r *Registry) Register(t core.Template) error {
	if err := checkTemplateShape(t); err != nil {
		return err
	}
	if r.templates == nil {
		r.templates = make(map[string]core.Template)
	}
	if _, exists := r.templates[t.Name]; exists {
		return core.Newf(core.KindConfig, "template %q registered twice", t.Name)
	}
	r.templates[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// New builds a Registry from a template set, running the registry-wide
// validation pass spec.md requires at process start.
func New(templates []core.Template) (*Registry, error) {
	r := &Registry{}
	for _, t := range templates {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func checkTemplateShape(t core.Template) error {
	if t.Name == "" {
		return core.NewError(core.KindConfig, "template registered with empty name")
	}
	if t.Validator == nil {
		return core.Newf(core.KindConfig, "template %q has no validator", t.Name)
	}
	if t.Arity > 0 && !strings.Contains(t.SQL, "?") {
		return core.Newf(core.KindConfig, "template %q declares %d parameters but its SQL has no bind placeholders", t.Name, t.Arity)
	}
	if t.Arity == 0 && strings.Contains(t.SQL, "?") {
		return core.Newf(core.KindConfig, "template %q is declared nullary but its SQL contains bind placeholders", t.Name)
	}
	if strings.Contains(t.SQL, "%s") || strings.Contains(t.SQL, "%v") || strings.Contains(t.SQL, "${") {
		return core.Newf(core.KindConfig, "template %q looks built by string formatting/concatenation, not parameter binds", t.Name)
	}
	return nil
}

// List returns every registered template name in registration order.
func (r *Registry) List() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns a single template by name.
func (r *Registry) Get(name string) (core.Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return core.Template{}, core.Newf(core.KindValidation, "unknown template %q", name)
	}
	return t, nil
}

// Execute validates params through the template's validator and then
// runs it against conn with the given session correlation tag. No
// bind value is ever formatted into SQL text; only the validated
// vector is passed through to conn.Exec.
func (r *Registry) Execute(ctx context.Context, conn core.Conn, name string, params []any, tag string) (*core.QueryResult, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	validated, err := t.Validator(params)
	if err != nil {
		return nil, err
	}

	result, err := conn.Exec(ctx, t.SQL, tag, validated)
	if err != nil {
		return nil, core.Wrap(core.KindWarehouse, err)
	}
	return result, nil
}
