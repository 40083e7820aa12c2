// Package ollama provides an embeddings provider backed by a local Ollama
// server through its /api/embed endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
)

// DefaultBaseURL is where a locally running Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

// DefaultModel is used when New receives an empty model name.
const DefaultModel = "nomic-embed-text"

var _ embeddings.Provider = (*Provider)(nil)

// knownDimensions maps model name prefixes to their output size.
var knownDimensions = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"bge-m3":            1024,
	"all-minilm":        384,
}

// Provider implements [embeddings.Provider] against an Ollama server.
//
// When the model's size is neither configured nor known, Dimensions embeds a
// probe string once and remembers the result.
type Provider struct {
	baseURL   string
	model     string
	keepAlive string
	client    *http.Client

	dims  int
	probe func() int
}

type options struct {
	timeout   time.Duration
	dims      int
	keepAlive string
	client    *http.Client
}

// Option configures a [Provider].
type Option func(*options)

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDimensions declares the model's vector length, skipping the probe.
func WithDimensions(n int) Option {
	return func(o *options) { o.dims = n }
}

// WithKeepAlive sets how long Ollama keeps the model loaded, e.g. "30m".
func WithKeepAlive(d string) Option {
	return func(o *options) { o.keepAlive = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// New creates an Ollama embeddings provider. Empty baseURL and model select
// [DefaultBaseURL] and [DefaultModel].
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: o.timeout}
	}

	p := &Provider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		keepAlive: o.keepAlive,
		client:    o.client,
		dims:      o.dims,
	}
	if p.dims <= 0 {
		p.dims = lookupDimensions(model)
	}
	p.probe = sync.OnceValue(func() int {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		vecs, err := p.call(ctx, []string{"probe"})
		if err != nil || len(vecs) == 0 {
			return 0
		}
		return len(vecs[0])
	})
	return p, nil
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
		return nil, nil
	}
	vecs, err := p.call(ctx, embeddings.PrepareAll(texts))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if err := embeddings.Check(vecs, len(texts), p.dims); err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	return vecs, nil
}

// Dimensions implements [embeddings.Provider]. It returns 0 when the size is
// unknown and the probe request failed.
func (p *Provider) Dimensions() int {
	if p.dims > 0 {
		return p.dims
	}
	return p.probe()
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (p *Provider) call(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: inputs, Truncate: true, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out embedResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && out.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	return out.Embeddings, nil
}

func lookupDimensions(model string) int {
	name := strings.ToLower(model)
	for prefix, n := range knownDimensions {
		if strings.HasPrefix(name, prefix) {
			return n
		}
	}
	return 0
}
