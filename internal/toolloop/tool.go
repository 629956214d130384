package toolloop

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landscaper/pkg/anthropic"
)

// Handler executes a tool call and returns the text fed back to the model.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Gate decides whether a tool runs as soon as the model asks for it.
type Gate int

const (
	// GateAuto tools run immediately: reads and already approved edits.
	GateAuto Gate = iota
	// GateConfirm tools are queued as pending actions until the user
	// confirms them.
	GateConfirm
)

// Tool is one capability offered to the model.
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON schema "properties" object of the input.
	Schema   map[string]any
	Required []string
	Gate     Gate
	// Keywords select the tool for a request that mentions any of them.
	Keywords []string
	// Always tools are offered on every request.
	Always  bool
	Handler Handler
}

// Definition returns the provider-facing tool schema.
func (t Tool) Definition() anthropic.ToolDefinition {
	props := t.Schema
	if props == nil {
		props = map[string]any{}
	}
	return anthropic.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Properties:  props,
		Required:    t.Required,
	}
}

// Registry holds the tools available to a conversation in registration
// order.
type Registry struct {
	tools  []Tool
	byName map[string]int
}

// NewRegistry builds a Registry. Tool names must be unique.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return eris.New("toolloop: tool needs a name and a handler")
	}
	if _, dup := r.byName[t.Name]; dup {
		return eris.Errorf("toolloop: duplicate tool %q", t.Name)
	}
	r.byName[t.Name] = len(r.tools)
	r.tools = append(r.tools, t)
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Select returns the subset of tools relevant to query, capped at max
// (max <= 0 means no cap). Always tools come first, then tools ranked by
// the number of their keywords found in query. Ties keep registration
// order, so selection is deterministic.
func (r *Registry) Select(query string, max int) []Tool {
	q := strings.ToLower(query)
	type hit struct {
		idx   int
		score int
	}
	var always, matched []hit
	for i, t := range r.tools {
		if t.Always {
			always = append(always, hit{idx: i})
			continue
		}
		n := 0
		for _, k := range t.Keywords {
			if k != "" && strings.Contains(q, strings.ToLower(k)) {
				n++
			}
		}
		if n > 0 {
			matched = append(matched, hit{idx: i, score: n})
		}
	}
	sort.SliceStable(matched, func(a, b int) bool { return matched[a].score > matched[b].score })

	out := make([]Tool, 0, len(always)+len(matched))
	for _, h := range append(always, matched...) {
		if max > 0 && len(out) == max {
			break
		}
		out = append(out, r.tools[h.idx])
	}
	return out
}

func definitions(tools []Tool) []anthropic.ToolDefinition {
	defs := make([]anthropic.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}
	return defs
}
