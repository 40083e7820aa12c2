// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns one complete reply into one encoded audio clip. The
// session manager writes the clip under the audio directory, advertises it to
// the client as /audio-file/<id>.mp3, and uses its duration to time the
// speaking flag.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as speech. The returned Speech has Format "mp3"
	// unless documented otherwise by the implementation. When the backend
	// cannot report playback length, Duration is derived from the MP3 frame
	// headers via [MP3Duration].
	Synthesize(ctx context.Context, text string) (*types.Speech, error)
}

// EstimateDuration returns a playback estimate for text that is spoken but
// whose audio length is unknown. It assumes roughly four CJK characters or
// fifteen Latin characters per second.
func EstimateDuration(text string) time.Duration {
	var cjk, other int
	for _, r := range text {
		if r >= 0x2E80 {
			cjk++
		} else {
			other++
		}
	}
	secs := float64(cjk)/4 + float64(other)/15
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs * float64(time.Second))
}
