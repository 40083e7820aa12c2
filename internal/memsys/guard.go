package memsys

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
)

// Guard wraps a [memory.Store] and tracks whether its backend is failing.
// Errors still reach the caller, which decides how to degrade; the guard
// only logs the transition and remembers the most recent outcome.
//
// Context cancellation is not counted as a backend failure.
//
// All methods are safe for concurrent use.
type Guard struct {
	name     string
	store    memory.Store
	degraded atomic.Bool
	lastErr  atomic.Pointer[error]
}

var _ memory.Store = (*Guard)(nil)

// NewGuard wraps store under name (a collection name in logs).
func NewGuard(name string, store memory.Store) *Guard {
	return &Guard{name: name, store: store}
}

// Add implements [memory.Store].
func (g *Guard) Add(ctx context.Context, texts []string, metas []memory.Metadata) ([]string, error) {
	ids, err := g.store.Add(ctx, texts, metas)
	g.observe(ctx, "add", err)
	return ids, err
}

// Query implements [memory.Store].
func (g *Guard) Query(ctx context.Context, text string, opts memory.QueryOptions) ([]memory.Result, error) {
	res, err := g.store.Query(ctx, text, opts)
	g.observe(ctx, "query", err)
	return res, err
}

// GetAll implements [memory.Store].
func (g *Guard) GetAll(ctx context.Context, opts memory.ListOptions) ([]memory.Record, error) {
	recs, err := g.store.GetAll(ctx, opts)
	g.observe(ctx, "get_all", err)
	return recs, err
}

// Delete implements [memory.Store].
func (g *Guard) Delete(ctx context.Context, ids []string) error {
	err := g.store.Delete(ctx, ids)
	g.observe(ctx, "delete", err)
	return err
}

// IsEmpty implements [memory.Store].
func (g *Guard) IsEmpty(ctx context.Context) (bool, error) {
	empty, err := g.store.IsEmpty(ctx)
	g.observe(ctx, "is_empty", err)
	return empty, err
}

// IsDegraded reports whether the most recent operation failed.
func (g *Guard) IsDegraded() bool { return g.degraded.Load() }

// Err returns the most recent failure while degraded, or nil.
func (g *Guard) Err() error {
	if !g.degraded.Load() {
		return nil
	}
	if p := g.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Unwrap returns the guarded store.
func (g *Guard) Unwrap() memory.Store { return g.store }

func (g *Guard) observe(ctx context.Context, op string, err error) {
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		wrapped := fmt.Errorf("memsys: %s %s: %w", g.name, op, err)
		g.lastErr.Store(&wrapped)
		if !g.degraded.Swap(true) {
			observe.Logger(ctx).Warn("memory store degraded", "collection", g.name, "op", op, "err", err)
		}
		return
	}
	if g.degraded.Swap(false) {
		observe.Logger(ctx).Info("memory store recovered", "collection", g.name, "op", op)
	}
}

// Guarded returns a copy of s with the three vector stores wrapped in
// guards. Stores that are already guarded are left as they are.
func (s Stores) Guarded() Stores {
	wrap := func(name string, st memory.Store) memory.Store {
		if st == nil {
			return nil
		}
		if _, ok := st.(*Guard); ok {
			return st
		}
		return NewGuard(name, st)
	}
	s.Conversation = wrap(memory.CollectionConversation, s.Conversation)
	s.Persona = wrap(memory.CollectionPersona, s.Persona)
	s.Summary = wrap(memory.CollectionSummary, s.Summary)
	return s
}

// Degraded returns the failures of the guarded stores that are currently
// degraded, keyed by collection.
func (s Stores) Degraded() map[string]error {
	out := map[string]error{}
	for name, st := range map[string]memory.Store{
		memory.CollectionConversation: s.Conversation,
		memory.CollectionPersona:      s.Persona,
		memory.CollectionSummary:      s.Summary,
	} {
		if g, ok := st.(*Guard); ok && g.IsDegraded() {
			out[name] = g.Err()
		}
	}
	return out
}
