// Package graph is a small state-graph engine. A graph is a set of named
// nodes, each a function from state to state, connected by fixed or
// conditional edges. Edges and conditions are data; nodes know nothing about
// each other.
//
// Build a graph with [New], add nodes and edges, then [Builder.Compile] it.
// A compiled [Graph] is immutable and safe for concurrent use; every
// [Graph.Run] threads its own state value.
package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
)

// End is the terminal pseudo-node.
const End = "__end__"

// DefaultRecursionLimit caps node visits per run.
const DefaultRecursionLimit = 15

var (
	// ErrRecursionLimit is returned when a run visits more nodes than the
	// recursion limit allows.
	ErrRecursionLimit = errors.New("graph: recursion limit reached")

	// ErrInvalidGraph wraps every compile-time problem.
	ErrInvalidGraph = errors.New("graph: invalid graph")
)

// Node transforms the state. Returning an error aborts the run.
type Node[S any] func(ctx context.Context, state S) (S, error)

// Condition picks the next node from the state. It must return one of the
// targets declared with the edge.
type Condition[S any] func(state S) string

type edge[S any] struct {
	to      string
	cond    Condition[S]
	targets []string
}

// Builder assembles a graph.
type Builder[S any] struct {
	nodes map[string]Node[S]
	order []string
	edges map[string]edge[S]
	entry string
	errs  []error
}

// New returns an empty builder.
func New[S any]() *Builder[S] {
	return &Builder[S]{nodes: map[string]Node[S]{}, edges: map[string]edge[S]{}}
}

// AddNode registers fn under name.
func (b *Builder[S]) AddNode(name string, fn Node[S]) *Builder[S] {
	switch {
	case name == "" || name == End:
		b.errs = append(b.errs, fmt.Errorf("node name %q is reserved", name))
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("node %q has nil function", name))
	case b.nodes[name] != nil:
		b.errs = append(b.errs, fmt.Errorf("node %q added twice", name))
	default:
		b.nodes[name] = fn
		b.order = append(b.order, name)
	}
	return b
}

// AddEdge routes from → to unconditionally.
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	if _, dup := b.edges[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("node %q has two outgoing edges", from))
		return b
	}
	b.edges[from] = edge[S]{to: to}
	return b
}

// AddConditionalEdge routes from to whichever of targets cond returns.
func (b *Builder[S]) AddConditionalEdge(from string, cond Condition[S], targets ...string) *Builder[S] {
	if _, dup := b.edges[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("node %q has two outgoing edges", from))
		return b
	}
	if cond == nil || len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from %q needs a condition and targets", from))
		return b
	}
	b.edges[from] = edge[S]{cond: cond, targets: targets}
	return b
}

// SetEntry sets the first node.
func (b *Builder[S]) SetEntry(name string) *Builder[S] {
	b.entry = name
	return b
}

// Compile checks that the entry and every edge endpoint exist and that
// every node has an outgoing edge.
func (b *Builder[S]) Compile() (*Graph[S], error) {
	errs := slices.Clone(b.errs)
	known := func(n string) bool { return n == End || b.nodes[n] != nil }

	if b.nodes[b.entry] == nil {
		errs = append(errs, fmt.Errorf("entry node %q not defined", b.entry))
	}
	for _, name := range b.order {
		e, ok := b.edges[name]
		if !ok {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
			continue
		}
		dests := e.targets
		if e.cond == nil {
			dests = []string{e.to}
		}
		for _, d := range dests {
			if !known(d) {
				errs = append(errs, fmt.Errorf("edge %s → %s: unknown node", name, d))
			}
		}
	}
	for from := range b.edges {
		if b.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}

	return &Graph[S]{
		nodes: maps.Clone(b.nodes),
		edges: maps.Clone(b.edges),
		entry: b.entry,
	}, nil
}

// Graph is a compiled, immutable graph.
type Graph[S any] struct {
	nodes map[string]Node[S]
	edges map[string]edge[S]
	entry string
}

// Step is reported to a [WithStepHook] callback after each node.
type Step struct {
	Index int
	Node  string
	Next  string
}

type runConfig struct {
	limit int
	hook  func(Step)
}

// RunOption configures a single run.
type RunOption func(*runConfig)

// WithRecursionLimit overrides [DefaultRecursionLimit].
func WithRecursionLimit(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithStepHook calls fn after every node visit.
func WithStepHook(fn func(Step)) RunOption {
	return func(c *runConfig) { c.hook = fn }
}

// Run executes the graph from the entry node until [End]. It returns the
// last state reached together with any error, so callers can still inspect
// a state that hit [ErrRecursionLimit] or a node failure.
func (g *Graph[S]) Run(ctx context.Context, state S, opts ...RunOption) (S, error) {
	cfg := runConfig{limit: DefaultRecursionLimit}
	for _, o := range opts {
		o(&cfg)
	}

	current := g.entry
	for visits := 0; current != End; visits++ {
		if visits >= cfg.limit {
			return state, fmt.Errorf("%w (%d visits, stuck at %q)", ErrRecursionLimit, cfg.limit, current)
		}
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("graph: before %q: %w", current, err)
		}

		nctx, span := observe.StartSpan(ctx, "graph."+current)
		next, err := g.nodes[current](nctx, state)
		observe.EndSpan(span, err)
		if err != nil {
			return state, fmt.Errorf("graph: node %q: %w", current, err)
		}
		state = next

		e := g.edges[current]
		to := e.to
		if e.cond != nil {
			to = e.cond(state)
			if !slices.Contains(e.targets, to) {
				return state, fmt.Errorf("graph: condition on %q chose undeclared target %q", current, to)
			}
		}
		if cfg.hook != nil {
			cfg.hook(Step{Index: visits, Node: current, Next: to})
		}
		current = to
	}
	return state, nil
}
