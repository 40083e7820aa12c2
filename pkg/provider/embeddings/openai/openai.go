// Package openai provides an embeddings provider backed by the OpenAI API.
//
// text-embedding-3 models accept a requested output size, so the provider can
// be pinned to the dimensionality the memory stores were created with.
package openai

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
)

// DefaultModel is used when New receives an empty model name.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// maxBatch caps the inputs sent in one request.
const maxBatch = 256

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider] using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	dims   int

	// requested is sent as the dimensions parameter when non-zero.
	requested int
}

type options struct {
	baseURL      string
	organization string
	httpClient   *http.Client
	dims         int
}

// Option configures a [Provider].
type Option func(*options)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithOrganization sets the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(o *options) { o.organization = org }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDimensions asks text-embedding-3 models for vectors of length n.
// Older models ignore it and keep their native size.
func WithDimensions(n int) Option {
	return func(o *options) { o.dims = n }
}

// New creates an OpenAI embeddings provider. An empty model selects
// [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(o.organization))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	p := &Provider{client: oai.NewClient(reqOpts...), model: model, dims: nativeDimensions(model)}
	if o.dims > 0 && resizable(model) {
		p.dims = o.dims
		p.requested = o.dims
	}
	return p, nil
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{embeddings.Prepare(text)})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements [embeddings.Provider]. Inputs beyond the per-request
// cap are sent in further requests.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for chunk := range slices.Chunk(embeddings.PrepareAll(texts), maxBatch) {
		vecs, err := p.embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *Provider) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	}
	if p.requested > 0 {
		params.Dimensions = param.NewOpt(int64(p.requested))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	data := slices.Clone(resp.Data)
	slices.SortFunc(data, func(a, b oai.Embedding) int { return cmp.Compare(a.Index, b.Index) })
	vecs := make([][]float32, len(data))
	for i, e := range data {
		vecs[i] = toFloat32(e.Embedding)
	}
	if err := embeddings.Check(vecs, len(inputs), p.dims); err != nil {
		return nil, err
	}
	return vecs, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }

func resizable(model string) bool {
	return strings.Contains(strings.ToLower(model), "text-embedding-3")
}

func nativeDimensions(model string) int {
	if strings.Contains(strings.ToLower(model), "text-embedding-3-large") {
		return 3072
	}
	return 1536
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
