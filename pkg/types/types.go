// Package types defines the shared types used across spacelive packages.
//
// These types are the lingua franca between providers, the memory layer, the
// dialogue graph and the session manager. Each package defines its own domain
// types; only cross-cutting data structures live here to avoid import cycles.
package types

import "time"

// Message roles. RoleSystem is only ever sent to an LLM and never stored in
// a session's history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in a dialogue history or an LLM conversation.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name. Tool result messages carry the
	// tool name here.
	Name string

	// IsMurmur marks an assistant message that was produced by the idle
	// monologue scheduler rather than in response to a user.
	IsMurmur bool

	// Timestamp is when the message was appended to the session history.
	Timestamp time.Time
}

// Transcript is a speech-to-text result.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report one.
	Confidence float64

	// Language is the detected language code if reported.
	Language string

	// Duration is the length of the utterance.
	Duration time.Duration
}

// Speech is a synthesised utterance ready to be written to disk and served
// to the client.
type Speech struct {
	// Audio is the encoded audio (MP3 unless the provider says otherwise).
	Audio []byte

	// Format is the container format, e.g. "mp3".
	Format string

	// Duration is the playback length of Audio. Providers that cannot report
	// it leave the estimate to the caller.
	Duration time.Duration
}

// EmotionKeyframe places an emotion tag on the reply timeline. Proportion is
// normalised playback time in [0, 1].
type EmotionKeyframe struct {
	Tag        string  `json:"tag"`
	Proportion float64 `json:"proportion"`
}

// BodyKeyframe is a named body animation placed on the reply timeline.
type BodyKeyframe struct {
	Name       string  `json:"name"`
	Proportion float64 `json:"proportion"`
}
