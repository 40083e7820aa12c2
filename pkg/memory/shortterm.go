package memory

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultShortTermCapacity is the number of turns kept by [NewShortTerm] when
// no capacity is given.
const DefaultShortTermCapacity = 20

// ShortTerm is the in-memory short-term layer: a bounded ring of recent
// turns that discards the oldest record on overflow. It is never persisted.
//
// Query ignores similarity entirely and returns the most recent opts.K
// records, newest first.
//
// ShortTerm implements [Store]. All methods are safe for concurrent use.
type ShortTerm struct {
	mu       sync.Mutex
	capacity int
	records  []Record // oldest first
	nextID   int
	now      func() time.Time
}

var _ Store = (*ShortTerm)(nil)

// NewShortTerm returns an empty ring holding at most capacity records.
// A non-positive capacity selects [DefaultShortTermCapacity].
func NewShortTerm(capacity int) *ShortTerm {
	if capacity <= 0 {
		capacity = DefaultShortTermCapacity
	}
	return &ShortTerm{capacity: capacity, now: time.Now}
}

// Capacity returns the maximum number of records held.
func (s *ShortTerm) Capacity() int { return s.capacity }

// Add implements [Store].
func (s *ShortTerm) Add(_ context.Context, texts []string, metas []Metadata) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(texts))
	for i, text := range texts {
		s.nextID++
		md := Metadata{MetaType: TypeShortTerm}
		if i < len(metas) && metas[i] != nil {
			md = metas[i].Clone()
		}
		now := s.now()
		if _, ok := md[MetaTimestamp]; !ok {
			md[MetaTimestamp] = now.Format(time.RFC3339)
		}
		id := "st-" + strconv.Itoa(s.nextID)
		ids[i] = id
		s.records = append(s.records, Record{ID: id, Text: text, Metadata: md, CreatedAt: now})
	}
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return ids, nil
}

// Query implements [Store]. Results carry a score of 1.
func (s *ShortTerm) Query(_ context.Context, _ string, opts QueryOptions) ([]Result, error) {
	opts = opts.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Result, 0, opts.K)
	for i := len(s.records) - 1; i >= 0 && len(out) < opts.K; i-- {
		r := s.records[i]
		if !r.Metadata.Matches(opts.Filter) {
			continue
		}
		out = append(out, Result{Record: r, Score: 1})
	}
	return out, nil
}

// GetAll implements [Store].
func (s *ShortTerm) GetAll(_ context.Context, opts ListOptions) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
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

// Delete implements [Store].
func (s *ShortTerm) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if _, ok := drop[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

// IsEmpty implements [Store].
func (s *ShortTerm) IsEmpty(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records) == 0, nil
}

// Len returns the number of records currently held.
func (s *ShortTerm) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
