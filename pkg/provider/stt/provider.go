// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The browser client records one utterance at a time and uploads it as a
// compressed blob (WebM/Opus, OGG/Opus, WAV or MP3). An STT provider turns
// that blob into a single final Transcript; there are no partials.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"

	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// ErrEmptyAudio is returned by Transcribe when the audio payload is empty.
var ErrEmptyAudio = errors.New("stt: empty audio")

// DefaultMIMEType is assumed when the client does not name a container.
const DefaultMIMEType = "audio/webm"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one recorded utterance into text. mimeType names the
	// container ("audio/webm;codecs=opus", "audio/wav", …); an empty value
	// means [DefaultMIMEType]. An utterance with no recognisable speech yields
	// a Transcript with empty Text and a nil error.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*types.Transcript, error)
}

// BaseMIMEType strips codec parameters from mimeType and lowercases it, so
// "audio/webm;codecs=opus" becomes "audio/webm".
func BaseMIMEType(mimeType string) string {
	if mimeType == "" {
		return DefaultMIMEType
	}
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// FileExtension returns a filename extension matching mimeType, for backends
// that infer the format from an uploaded file name.
func FileExtension(mimeType string) string {
	switch BaseMIMEType(mimeType) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".webm"
	}
}
