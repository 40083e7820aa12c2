// Package openai provides an LLM provider backed by the OpenAI chat
// completions API or any OpenAI-compatible endpoint.
//
// The keyframe pass asks for JSON; models that support it get the
// json_object response format. Reasoning models (o-series, gpt-5) reject
// sampling parameters, so temperature and top-p are dropped for them.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements [llm.Provider] with chat completions.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

type options struct {
	requestOpts []option.RequestOption
}

// Option configures a [Provider].
type Option func(*options)

// WithBaseURL targets an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.requestOpts = append(o.requestOpts, option.WithBaseURL(url)) }
}

// WithOrganization sets the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(o *options) { o.requestOpts = append(o.requestOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return WithHTTPClient(&http.Client{Timeout: d})
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.requestOpts = append(o.requestOpts, option.WithHTTPClient(c)) }
}

// New creates a chat provider for model.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	o := options{requestOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Provider{
		client: oai.NewClient(o.requestOpts...),
		model:  model,
		caps:   llm.Lookup(model),
	}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" && choice.Message.Content == "" {
		return nil, fmt.Errorf("openai: model refused: %s", choice.Message.Refusal)
	}
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

func (p *Provider) buildParams(req llm.CompletionRequest) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if !p.caps.FixedSampling {
		if req.Temperature != 0 {
			params.Temperature = param.NewOpt(req.Temperature)
		}
		if req.TopP != 0 {
			params.TopP = param.NewOpt(req.TopP)
		}
	}
	if n := p.caps.ClampTokens(req.MaxTokens); n > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(n))
	}
	if req.ResponseMIMEType == llm.MIMEJSON && p.caps.SupportsJSONMode {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// convertMessage maps a dialogue message onto the wire. Tools run outside
// the function-calling protocol, so their results travel as labelled user
// context.
func convertMessage(m types.Message) oai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content)
	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Content)
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	case types.RoleTool:
		label := "tool"
		if m.Name != "" {
			label += ":" + m.Name
		}
		return oai.UserMessage("[" + label + "] " + m.Content)
	default:
		return oai.UserMessage(m.Content)
	}
}
