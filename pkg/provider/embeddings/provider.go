// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// The persistent memory stores embed every record they add and every query
// they answer through a Provider, so all vectors written to one store must
// come from the same model and share one length. Implementations must be safe
// for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDimensions reports a vector whose length differs from the provider's
// advertised [Provider.Dimensions].
var ErrDimensions = errors.New("embeddings: unexpected vector length")

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in as few backend calls as possible. The i-th
	// vector belongs to texts[i]. On error the whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of every vector this provider produces.
	Dimensions() int

	// ModelID names the backend model, e.g. "text-embedding-3-small". Stores
	// record it next to their vectors.
	ModelID() string
}

// Placeholder replaces blank input, which most hosted embedding endpoints
// reject.
const Placeholder = "(空)"

// Prepare trims text and substitutes [Placeholder] for blank input.
func Prepare(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return Placeholder
	}
	return text
}

// PrepareAll applies [Prepare] to a copy of texts.
func PrepareAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Prepare(t)
	}
	return out
}

// Check verifies that vecs holds n vectors of length dims. dims <= 0 skips
// the length check.
func Check(vecs [][]float32, n, dims int) error {
	if len(vecs) != n {
		return fmt.Errorf("embeddings: got %d vectors for %d texts", len(vecs), n)
	}
	if dims <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensions, i, len(v), dims)
		}
	}
	return nil
}
