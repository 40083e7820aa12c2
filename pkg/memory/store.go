// Package memory defines the layered memory used by the spacelive dialogue
// pipeline.
//
// Every layer implements the same capability set, [Store]. The retriever and
// writer depend on that capability rather than on a particular backend:
//
//   - Conversation: one record per stored turn ("input: U\noutput: A").
//     Vector indexed and persisted. Queried with MMR.
//   - Persona: canonical identity facts plus facts learned from turns.
//   - Summary: one record per consolidated batch of conversation records.
//   - Short-term: a bounded in-memory ring of recent turns ([ShortTerm]).
//
// Persistent backends live in sub-packages (sqlite, postgres). They embed the
// text themselves so callers deal in plain strings.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
)

// Collection names. Persistent backends keep each collection in its own
// directory or table named after these constants.
const (
	CollectionConversation = "conversation_memory"
	CollectionPersona      = "persona_memory"
	CollectionSummary      = "summary_memory"
)

// ErrNotFound is returned when an operation references a record id that the
// store does not hold.
var ErrNotFound = errors.New("memory: record not found")

// Store is the capability set of a single memory collection.
//
// Query blocks until the backend answers; callers that need to query several
// stores at once run the calls concurrently themselves.
type Store interface {
	// Add embeds and stores texts. metas is either nil or parallel to texts.
	// It returns the ids assigned to the new records, in input order.
	Add(ctx context.Context, texts []string, metas []Metadata) ([]string, error)

	// Query returns the records most similar to text. With opts.MMR set the
	// candidate pool of opts.FetchK records is re-ranked by Maximal Marginal
	// Relevance before the top opts.K are returned.
	Query(ctx context.Context, text string, opts QueryOptions) ([]Result, error)

	// GetAll lists stored records in insertion order, narrowed by opts.
	GetAll(ctx context.Context, opts ListOptions) ([]Record, error)

	// Delete removes the records with the given ids. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// IsEmpty reports whether the store holds no records.
	IsEmpty(ctx context.Context) (bool, error)
}
