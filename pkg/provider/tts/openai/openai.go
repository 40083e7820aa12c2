// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// Defaults used when New receives empty values.
const (
	DefaultModel = "gpt-4o-mini-tts"
	DefaultVoice = "nova"
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using POST /audio/speech with MP3 output.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

// New constructs an OpenAI TTS provider. baseURL may be empty.
func New(apiKey, model, voice, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if voice == "" {
		voice = DefaultVoice
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: oai.NewClient(opts...), model: model, voice: voice}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (*types.Speech, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	dur := tts.MP3Duration(audio)
	if dur == 0 {
		dur = tts.EstimateDuration(text)
	}
	return &types.Speech{Audio: audio, Format: "mp3", Duration: dur}, nil
}
