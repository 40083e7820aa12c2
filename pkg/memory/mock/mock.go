// Package mock provides an in-memory test double for [memory.Store].
//
// The mock records every method call for assertion in tests and keeps added
// records so that GetAll/IsEmpty behave like a real store. Exported fields
// control scripted results and injected errors. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.QueryResult = []memory.Result{{Record: memory.Record{Text: "hello"}}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Add"); got != 1 {
//	    t.Errorf("expected 1 Add call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.Store].
type Store struct {
	mu sync.Mutex

	calls   []Call
	records []memory.Record
	nextID  int

	// AddErr is returned by [Store.Add] when non-nil; nothing is stored.
	AddErr error

	// QueryResult is returned by [Store.Query]. When nil, Query returns the
	// most recent stored records (newest first) truncated to K.
	QueryResult []memory.Result

	// QueryErr is returned by [Store.Query] when non-nil.
	QueryErr error

	// QueryDelay makes Query block for the given duration (or until ctx is
	// done) before answering. Used to exercise concurrent retrieval.
	QueryDelay time.Duration

	// GetAllErr is returned by [Store.GetAll] when non-nil.
	GetAllErr error

	// DeleteErr is returned by [Store.Delete] when non-nil.
	DeleteErr error

	// IsEmptyErr is returned by [Store.IsEmpty] when non-nil.
	IsEmptyErr error
}

var _ memory.Store = (*Store)(nil)

// Calls returns a copy of all recorded calls.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of times method was called.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Records returns a copy of the stored records.
func (m *Store) Records() []memory.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// Texts returns the text of every stored record in insertion order.
func (m *Store) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	for i, r := range m.records {
		out[i] = r.Text
	}
	return out
}

// Seed appends records directly, bypassing call recording.
func (m *Store) Seed(records ...memory.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			m.nextID++
			r.ID = fmt.Sprintf("mock-%d", m.nextID)
		}
		m.records = append(m.records, r)
	}
}

// Reset clears recorded calls but keeps stored records.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Add implements [memory.Store].
func (m *Store) Add(_ context.Context, texts []string, metas []memory.Metadata) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Add", Args: []any{slices.Clone(texts), metas}})
	if m.AddErr != nil {
		return nil, m.AddErr
	}
	ids := make([]string, len(texts))
	for i, t := range texts {
		m.nextID++
		ids[i] = fmt.Sprintf("mock-%d", m.nextID)
		md := memory.Metadata{}
		if i < len(metas) && metas[i] != nil {
			md = metas[i].Clone()
		}
		m.records = append(m.records, memory.Record{ID: ids[i], Text: t, Metadata: md, CreatedAt: time.Now()})
	}
	return ids, nil
}

// Query implements [memory.Store].
func (m *Store) Query(ctx context.Context, text string, opts memory.QueryOptions) ([]memory.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "Query", Args: []any{text, opts}})
	delay := m.QueryDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	if m.QueryResult != nil {
		return slices.Clone(m.QueryResult), nil
	}
	opts = opts.Normalize()
	out := []memory.Result{}
	for i := len(m.records) - 1; i >= 0 && len(out) < opts.K; i-- {
		if m.records[i].Metadata.Matches(opts.Filter) {
			out = append(out, memory.Result{Record: m.records[i], Score: 1})
		}
	}
	return out, nil
}

// GetAll implements [memory.Store].
func (m *Store) GetAll(_ context.Context, opts memory.ListOptions) ([]memory.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetAll", Args: []any{opts}})
	if m.GetAllErr != nil {
		return nil, m.GetAllErr
	}
	out := []memory.Record{}
	for _, r := range m.records {
		if !opts.Keep(r) {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Delete implements [memory.Store].
func (m *Store) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{slices.Clone(ids)}})
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.records = slices.DeleteFunc(m.records, func(r memory.Record) bool {
		return slices.Contains(ids, r.ID)
	})
	return nil
}

// IsEmpty implements [memory.Store].
func (m *Store) IsEmpty(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "IsEmpty"})
	if m.IsEmptyErr != nil {
		return false, m.IsEmptyErr
	}
	return len(m.records) == 0, nil
}
