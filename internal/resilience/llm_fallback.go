package resilience

import (
	"context"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across chat backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns an [LLMFallback] preferring primary. cfg.Stage
// defaults to "llm".
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Stage == "" {
		cfg.Stage = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backup chat backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports what every backend in the group can handle: the
// smallest context window and output limit, JSON mode only when all
// backends support it, and fixed sampling when any backend needs it. A
// request shaped by these limits is valid whichever backend answers it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	f.group.each(func(p llm.Provider) {
		c := p.Capabilities()
		caps.ContextWindow = minPositive(caps.ContextWindow, c.ContextWindow)
		caps.MaxOutputTokens = minPositive(caps.MaxOutputTokens, c.MaxOutputTokens)
		caps.SupportsJSONMode = caps.SupportsJSONMode && c.SupportsJSONMode
		caps.FixedSampling = caps.FixedSampling || c.FixedSampling
	})
	return caps
}

// Names returns the backend names in preference order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// minPositive treats zero as unknown.
func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	}
	return min(a, b)
}
