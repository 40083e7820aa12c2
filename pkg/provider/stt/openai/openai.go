// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (Whisper and gpt-4o-transcribe models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// DefaultModel is used when New receives an empty model.
const DefaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using POST /audio/transcriptions.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// New constructs an OpenAI STT provider. language is an ISO-639-1 hint such
// as "zh"; empty lets the model detect it. baseURL may be empty.
func New(apiKey, model, language, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: oai.NewClient(opts...), model: model, language: language}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (*types.Transcript, error) {
	if len(audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(bytes.NewReader(audio), "utterance"+stt.FileExtension(mimeType), stt.BaseMIMEType(mimeType)),
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return &types.Transcript{Text: strings.TrimSpace(resp.Text), Language: p.language}, nil
}
