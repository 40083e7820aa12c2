package resilience

import (
	"context"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// STTFallback is an [stt.Provider] that fails over across recognisers.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an [STTFallback] preferring primary. cfg.Stage
// defaults to "stt".
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Stage == "" {
		cfg.Stage = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backup recogniser.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Transcribe implements [stt.Provider]. The same clip is replayed to each
// backend, so browsers' webm/ogg uploads must be accepted by all of them.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, mimeType string) (*types.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*types.Transcript, error) {
		return p.Transcribe(ctx, audio, mimeType)
	})
}

// TTSFallback is a [tts.Provider] that fails over across voices.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a [TTSFallback] preferring primary. cfg.Stage
// defaults to "tts".
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Stage == "" {
		cfg.Stage = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backup voice.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (*types.Speech, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*types.Speech, error) {
		return p.Synthesize(ctx, text)
	})
}
