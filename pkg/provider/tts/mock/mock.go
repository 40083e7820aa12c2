// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Speech: &types.Speech{Audio: []byte("mp3"), Duration: time.Second}}
//	speech, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by Synthesize. When nil, fake bytes with an
	// estimated duration are returned.
	Speech *types.Speech

	// Err, if non-nil, is returned by Synthesize.
	Err error

	texts []string
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, text string) (*types.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Speech != nil {
		cp := *p.Speech
		return &cp, nil
	}
	return &types.Speech{Audio: []byte("mp3"), Format: "mp3", Duration: tts.EstimateDuration(text)}, nil
}

// Texts returns a copy of every text passed to Synthesize.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.texts)
}
