// Package hashing provides a local, dependency-free embeddings provider.
//
// Text is folded to lower case, split into runes, and every character unigram
// and bigram is hashed into one of a fixed number of buckets (the hashing
// trick). The resulting count vector is L2-normalised. Mixed Chinese and
// Latin text works without a tokenizer since CJK characters carry meaning on
// their own.
//
// The vectors are much weaker than a learned model but they are
// deterministic, free, and good enough for offline runs and tests.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
)

// DefaultDimensions is the vector length used when New receives zero.
const DefaultDimensions = 256

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider] with feature hashing.
// It is stateless and safe for concurrent use.
type Provider struct {
	dims int
}

// New returns a hashing provider producing vectors of length dims.
func New(dims int) *Provider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Provider{dims: dims}
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

// EmbedBatch implements [embeddings.Provider].
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return "hashing-ngram" }

func (p *Provider) vector(text string) []float32 {
	vec := make([]float32, p.dims)

	var runes []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			runes = append(runes, ' ')
			continue
		}
		runes = append(runes, r)
	}

	for i, r := range runes {
		if r == ' ' {
			continue
		}
		vec[p.bucket(string(r))]++
		if i+1 < len(runes) && runes[i+1] != ' ' {
			vec[p.bucket(string(runes[i:i+2]))] += 2
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (p *Provider) bucket(gram string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(gram))
	return int(h.Sum32() % uint32(p.dims))
}
