// Package tools is the capability table the dialogue graph consults when a
// turn asks for outside information.
//
// A [Tool] pairs a name and description (shown to the LLM during intent
// detection) with a typed parameter list and a Go function. The pipeline
// around the table runs in four steps, each a separate graph node:
//
//  1. [Detector.Detect] asks the LLM which tool, if any, the turn needs.
//  2. [Extractor.Extract] asks the LLM for each parameter value.
//  3. [Registry.Execute] runs the tool and captures its outcome.
//  4. [FormatOutcome] renders the outcome as a block the reply prompt weaves in.
//
// Built-in tools live in sub-packages; remote tools are imported from MCP
// servers by [MCPClient].
package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
)

var (
	// ErrUnknownTool is returned when a name is not registered.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrMissingParams is returned when a required parameter has no value.
	ErrMissingParams = errors.New("tools: missing required parameters")

	// ErrInvalidTool is returned by [Registry.Register] for an unusable descriptor.
	ErrInvalidTool = errors.New("tools: invalid tool")
)

// Parameter types understood by the extractor prompt.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Param describes one argument of a tool.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Func is a tool implementation. args holds the extracted parameter values
// keyed by [Param.Name]; optional parameters may be absent.
type Func func(ctx context.Context, args map[string]string) (string, error)

// Tool is a registered capability.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Func        Func

	// Source names where the tool came from ("builtin" or an MCP server name).
	Source string
}

// Required returns the names of the required parameters in declaration order.
func (t Tool) Required() []string {
	var out []string
	for _, p := range t.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Registry is a concurrency-safe table of tools keyed by name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	metrics *observe.Metrics
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithRegistryMetrics records tool calls on m instead of
// [observe.DefaultMetrics].
func WithRegistryMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Tool), metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) error {
	t.Name = strings.TrimSpace(t.Name)
	switch {
	case t.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	case strings.EqualFold(t.Name, NoTool):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTool, t.Name)
	case t.Func == nil:
		return fmt.Errorf("%w: %q has no function", ErrInvalidTool, t.Name)
	}
	seen := make(map[string]struct{}, len(t.Params))
	for _, p := range t.Params {
		if p.Name == "" {
			return fmt.Errorf("%w: %q has a parameter without a name", ErrInvalidTool, t.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %q declares parameter %q twice", ErrInvalidTool, t.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if t.Source == "" {
		t.Source = "builtin"
	}
	t.Params = slices.Clone(t.Params)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Unregister removes the named tool. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Tools returns all registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Describe renders the catalogue for the intent prompt, one tool per block.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, t := range r.Tools() {
		fmt.Fprintf(&b, "- %s：%s\n", t.Name, t.Description)
		for _, p := range t.Params {
			req := "選填"
			if p.Required {
				req = "必填"
			}
			fmt.Fprintf(&b, "    參數 %s（%s，%s）：%s\n", p.Name, p.Type, req, p.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseInt reads an integer argument, returning def when absent or invalid.
func ParseInt(args map[string]string, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
