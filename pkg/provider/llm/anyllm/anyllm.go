// Package anyllm adapts the any-llm-go multi-provider client to [llm.Provider].
//
// It lets the reply model run on Anthropic, Gemini, Ollama, DeepSeek, Mistral,
// Groq, llama.cpp or llamafile without a dedicated adapter per vendor. The
// any-llm backends receive temperature and max-token settings; JSON output for
// the keyframe pass is enforced by the prompt.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// SupportedBackends lists the backend names accepted by [New].
var SupportedBackends = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Provider implements llm.Provider on top of an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a provider for the named backend (see [SupportedBackends]).
// opts are passed through to the backend constructor, e.g.
// anyllmlib.WithAPIKey or anyllmlib.WithBaseURL.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(SupportedBackends, ", "))
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 && !modelCapabilities(p.model).FixedSampling {
		t := req.Temperature
		params.Temperature = &t
	}
	if mt := modelCapabilities(p.model).ClampTokens(req.MaxTokens); mt > 0 {
		params.MaxTokens = &mt
	}
	return params
}

// convertMessage maps a dialogue message onto an any-llm message. Tool
// results have no preceding tool call on the wire, so they travel as user
// context.
func convertMessage(m types.Message) anyllmlib.Message {
	switch m.Role {
	case types.RoleTool:
		return anyllmlib.Message{Role: anyllmlib.RoleUser, Content: "[tool] " + m.Content}
	case types.RoleSystem, types.RoleAssistant:
		return anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name}
	default:
		return anyllmlib.Message{Role: anyllmlib.RoleUser, Content: m.Content, Name: m.Name}
	}
}

// modelCapabilities reports the shared model table entry without native JSON
// mode, which any-llm does not expose uniformly across backends.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.Lookup(model)
	caps.SupportsJSONMode = false
	return caps
}
