// Package gemini provides an embeddings provider backed by the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
)

// DefaultModel is used when New receives an empty model name.
const DefaultModel = "text-embedding-004"

// DefaultDimensions is the output size of [DefaultModel].
const DefaultDimensions = 768

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider] using genai EmbedContent.
type Provider struct {
	client *genai.Client
	model  string
	dims   int
}

// New creates a Gemini embeddings provider. dims is requested as the output
// dimensionality; zero selects [DefaultDimensions].
func New(ctx context.Context, apiKey, model string, dims int) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: create client: %w", err)
	}
	return &Provider{client: client, model: model, dims: dims}, nil
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements [embeddings.Provider].
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range embeddings.PrepareAll(texts) {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(p.dims)),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed: %w", err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	if err := embeddings.Check(out, len(texts), p.dims); err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }
