// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "你好"}
//	tr, _ := p.Transcribe(ctx, audio, "audio/webm")
package mock

import (
	"context"
	"sync"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Audio    []byte
	MIMEType string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is the transcript returned by Transcribe.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	calls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, audio []byte, mimeType string) (*types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, TranscribeCall{Audio: append([]byte(nil), audio...), MIMEType: mimeType})
	if p.Err != nil {
		return nil, p.Err
	}
	return &types.Transcript{Text: p.Text, Confidence: 1}, nil
}

// Calls returns a copy of every recorded Transcribe call.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.calls...)
}
