// Package tools implements the fixed tool registry the Agent step loop
// dispatches against. Every tool here is a plain Go function wrapped to a
// common interface; there is no vendor tool-calling schema involved, since
// the LLM never receives a JSON tool spec — it receives the rendered
// <tools> text block (internal/memory.RenderTools) and emits calls as part
// of its structured text reply, parsed by internal/agent.
package tools

import (
	"context"
	"sort"
)

// Tool is one callable capability exposed to an agent.
type Tool interface {
	Name() string
	Description() string
	// ArgsSchema is a short human-readable argument signature rendered into
	// the <tools> block, e.g. "command (string), timeout (int, optional)".
	ArgsSchema() string
	Execute(ctx context.Context, args map[string]string) *Result
}

// Registry holds every Tool available to an agent, keyed by name, and
// produces the deterministic, name-sorted ordering the system anchor
// requires so that the <tools> segment is stable across steps (a
// prerequisite for the rebuild-skip caching rule in internal/memory).
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry from an unordered set of tools, sorting
// them by name once at construction time.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	r.order = make([]string, 0, len(r.tools))
	for name := range r.tools {
		r.order = append(r.order, name)
	}
	sort.Strings(r.order)
	return r
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns every tool's identity in deterministic name order,
// for rendering the <tools> system anchor segment.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Descriptor{Name: t.Name(), Description: t.Description(), ArgsSchema: t.ArgsSchema()})
	}
	return out
}

// Descriptor is the identity slice of a Tool needed to render it in the
// system anchor. Mirrors internal/memory.ToolDescriptor field-for-field so
// callers can convert with a plain loop without this package importing
// memory.
type Descriptor struct {
	Name        string
	Description string
	ArgsSchema  string
}
