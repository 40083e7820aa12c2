// Package deepgram provides an STT provider backed by the Deepgram
// pre-recorded transcription REST API.
//
// Each call POSTs one compressed utterance to /v1/listen and returns the
// best alternative of the first channel.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-2"
	defaultLanguage = "zh-TW"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-2", "nova-3").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 recognition language.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by Deepgram.
type Provider struct {
	apiKey     string
	model      string
	language   string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// listenResponse is the subset of the Deepgram pre-recorded response used here.
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (*types.Transcript, error) {
	if len(audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.listenURL(), bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", stt.BaseMIMEType(mimeType))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: listen HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram: listen: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var body listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}

	tr := &types.Transcript{
		Language: p.language,
		Duration: time.Duration(body.Metadata.Duration * float64(time.Second)),
	}
	if len(body.Results.Channels) == 0 {
		return tr, nil
	}
	ch := body.Results.Channels[0]
	if ch.DetectedLanguage != "" {
		tr.Language = ch.DetectedLanguage
	}
	if len(ch.Alternatives) > 0 {
		tr.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
		tr.Confidence = ch.Alternatives[0].Confidence
	}
	return tr, nil
}

func (p *Provider) listenURL() string {
	q := url.Values{}
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if p.language != "" {
		q.Set("language", p.language)
	}
	return p.baseURL + "/v1/listen?" + q.Encode()
}
