// Package llm defines the Provider interface for chat-completion backends.
//
// The dialogue pipeline makes three kinds of calls through a Provider: the
// in-character reply, the short classification calls of the tool pipeline
// (intent and parameter extraction), and the keyframe pass, which requests a
// JSON response via [CompletionRequest.ResponseMIMEType].
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// MIMEJSON is the response MIME type that switches a provider to JSON mode.
const MIMEJSON = "application/json"

// Usage holds token accounting for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest holds all parameters for a single chat completion.
// Zero-valued generation fields leave the provider default in place.
type CompletionRequest struct {
	// Messages is the conversation to complete, oldest first.
	Messages []types.Message

	// SystemPrompt is sent before Messages when non-empty.
	SystemPrompt string

	// Temperature controls sampling randomness.
	Temperature float64

	// TopP is the nucleus sampling mass.
	TopP float64

	// TopK limits sampling to the K most likely tokens. Providers without
	// top-k support ignore it.
	TopK int

	// MaxTokens caps the completion length.
	MaxTokens int

	// ResponseMIMEType requests a structured response format. [MIMEJSON]
	// enables JSON mode on providers that support it; others ignore it and
	// rely on the prompt.
	ResponseMIMEType string
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	// Content is the generated text.
	Content string

	// FinishReason is the provider's stop reason, if reported.
	FinishReason string

	// Usage reports token consumption.
	Usage Usage
}

// ModelCapabilities describes what a provider's configured model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of input tokens.
	ContextWindow int

	// MaxOutputTokens is the maximum completion length.
	MaxOutputTokens int

	// SupportsJSONMode reports native JSON response support.
	SupportsJSONMode bool

	// FixedSampling marks reasoning models that reject temperature and top-p.
	FixedSampling bool
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and blocks until the full response is available or
	// ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities reports what the configured model supports.
	Capabilities() ModelCapabilities
}
