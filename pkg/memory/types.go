package memory

import (
	"strconv"
	"time"
)

// Well-known metadata keys.
const (
	MetaType       = "type"
	MetaTimestamp  = "timestamp"
	MetaPersistent = "persistent"
	MetaSource     = "source"
)

// Well-known values for the [MetaType] key.
const (
	TypeConversation  = "conversation"
	TypeCoreIdentity  = "core_identity"
	TypePersonaUpdate = "persona_update"
	TypeSummary       = "summary"
	TypeShortTerm     = "short_term"
)

// Metadata is the free-form attribute map attached to a stored record.
// Values must be JSON-encodable; persistent backends round-trip them through
// JSON, so numbers come back as float64.
type Metadata map[string]any

// Type returns the record's [MetaType] value or "" when unset.
func (m Metadata) Type() string {
	s, _ := m[MetaType].(string)
	return s
}

// Persistent reports whether [MetaPersistent] is set to true. Persistent
// records are never removed by consolidation.
func (m Metadata) Persistent() bool {
	switch v := m[MetaPersistent].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Matches reports whether every key in filter is present in m with an equal
// value. Values are compared after normalising numbers to float64 so that
// filters survive a JSON round trip.
func (m Metadata) Matches(filter Metadata) bool {
	for k, want := range filter {
		got, ok := m[k]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy of m. A nil map clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sameValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Record is a single stored memory.
type Record struct {
	// ID is the backend-assigned identifier (a UUID for persistent stores).
	ID string

	// Text is the stored content.
	Text string

	// Embedding is the vector representation of Text. Short-term records have
	// no embedding.
	Embedding []float32

	// Metadata holds the record attributes ([MetaType], [MetaTimestamp], …).
	Metadata Metadata

	// CreatedAt is when the record was added.
	CreatedAt time.Time
}

// Result pairs a retrieved record with its relevance score. Higher scores are
// more relevant; vector backends report cosine similarity in [-1, 1].
type Result struct {
	Record Record
	Score  float64
}

// Default MMR parameters.
const (
	DefaultFetchKFactor = 5
	DefaultLambda       = 0.75
)

// QueryOptions configures [Store.Query].
type QueryOptions struct {
	// K is the number of results to return. Zero means 4.
	K int

	// MMR enables Maximal Marginal Relevance re-ranking.
	MMR bool

	// FetchK is the size of the MMR candidate pool. Zero means
	// [DefaultFetchKFactor] * K.
	FetchK int

	// Lambda balances relevance (1.0) against diversity (0.0) for MMR.
	// Zero means [DefaultLambda].
	Lambda float64

	// Filter restricts candidates to records whose metadata matches.
	Filter Metadata
}

// Normalize returns a copy of o with zero fields replaced by their defaults.
func (o QueryOptions) Normalize() QueryOptions {
	if o.K <= 0 {
		o.K = 4
	}
	if o.FetchK <= 0 {
		o.FetchK = DefaultFetchKFactor * o.K
	}
	if o.FetchK < o.K {
		o.FetchK = o.K
	}
	if o.Lambda <= 0 || o.Lambda > 1 {
		o.Lambda = DefaultLambda
	}
	return o
}

// MMRQuery returns QueryOptions for an MMR query with the default candidate
// pool and lambda.
func MMRQuery(k int) QueryOptions {
	return QueryOptions{K: k, MMR: true}.Normalize()
}

// ListOptions narrows [Store.GetAll].
type ListOptions struct {
	// Limit caps the number of records returned. Zero means no limit.
	Limit int

	// Filter restricts results to records whose metadata matches.
	Filter Metadata

	// After restricts results to records created strictly after this instant.
	// A zero Time disables the bound.
	After time.Time
}

// Keep reports whether r passes the filter and time bound of o. Backends
// that cannot push the predicate down use it for in-process filtering.
func (o ListOptions) Keep(r Record) bool {
	if !o.After.IsZero() && !r.CreatedAt.After(o.After) {
		return false
	}
	return r.Metadata.Matches(o.Filter)
}
