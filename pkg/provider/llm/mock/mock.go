// Package mock provides a test double for [llm.Provider].
//
// The mock answers from, in order of precedence: CompleteFunc, the Script
// queue, then CompleteResponse/CompleteErr. Every call is recorded. It is safe
// for concurrent use.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
)

// CompleteCall records the arguments of a single Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Reply is one scripted answer.
type Reply struct {
	Content string
	Err     error
}

// Provider is a configurable test double for [llm.Provider].
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when set, computes the answer for every call.
	CompleteFunc func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Script is consumed front to back, one entry per call.
	Script []Reply

	// CompleteResponse is returned once Script is exhausted.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr is returned with CompleteResponse.
	CompleteErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every Complete invocation.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var (
		scripted *Reply
		resp     = p.CompleteResponse
		err      = p.CompleteErr
	)
	if fn == nil && len(p.Script) > 0 {
		r := p.Script[0]
		p.Script = p.Script[1:]
		scripted = &r
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case fn != nil:
		return fn(req)
	case scripted != nil:
		if scripted.Err != nil {
			return nil, scripted.Err
		}
		return &llm.CompletionResponse{Content: scripted.Content}, nil
	case err != nil:
		return nil, err
	case resp != nil:
		cp := *resp
		return &cp, nil
	}
	return nil, errors.New("llm mock: no response configured")
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// CallCount returns the number of Complete invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
