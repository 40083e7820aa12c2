package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// Undetermined is the extractor answer for a value the dialogue does not give.
const Undetermined = "無法確定"

// paramHistory is how many trailing messages the extraction prompt shows.
const paramHistory = 4

// Extraction is the result of [Extractor.Extract].
type Extraction struct {
	// Args holds every parameter that received a value.
	Args map[string]string

	// Missing lists required parameters that could not be determined, in
	// declaration order.
	Missing []string
}

// OK reports whether every required parameter has a value.
func (e Extraction) OK() bool { return len(e.Missing) == 0 }

// Extractor asks the LLM for tool argument values, one call per parameter.
type Extractor struct {
	llm     llm.Provider
	metrics *observe.Metrics
}

// NewExtractor returns an extractor backed by p.
func NewExtractor(p llm.Provider, m *observe.Metrics) *Extractor {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Extractor{llm: p, metrics: m}
}

// Extract fills the parameters of t from the dialogue tail and the current
// input. An LLM failure on a required parameter marks it missing; on an
// optional one the parameter is left out. Only context cancellation is
// returned as an error.
func (e *Extractor) Extract(ctx context.Context, t Tool, history []types.Message, input string) (Extraction, error) {
	out := Extraction{Args: make(map[string]string, len(t.Params))}
	tail := formatTail(history, paramHistory)
	for _, p := range t.Params {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		v, err := e.extractOne(ctx, t, p, tail, input)
		if err != nil {
			observe.Logger(ctx).Warn("tool parameter extraction failed",
				"tool", t.Name, "param", p.Name, "err", err)
		}
		if v == "" {
			if p.Required {
				out.Missing = append(out.Missing, p.Name)
			}
			continue
		}
		out.Args[p.Name] = v
	}
	return out, nil
}

func (e *Extractor) extractOne(ctx context.Context, t Tool, p Param, tail, input string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "工具：%s\n說明：%s\n\n", t.Name, t.Description)
	fmt.Fprintf(&b, "需要的參數：%s（類型 %s）：%s\n\n", p.Name, p.Type, p.Description)
	fmt.Fprintf(&b, "最近對話：\n%s\n\n用戶最新訊息：%s\n\n", tail, input)
	fmt.Fprintf(&b, "請只輸出這個參數的值，不要加任何說明。如果對話中沒有足夠資訊，請只輸出「%s」。", Undetermined)

	start := time.Now()
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "你負責從對話中抽取工具參數。",
		Messages:     []types.Message{{Role: types.RoleUser, Content: b.String()}},
		Temperature:  0,
		MaxTokens:    60,
	})
	e.metrics.RecordLLM(ctx, "tool_params", time.Since(start).Seconds(), err != nil)
	if err != nil {
		return "", fmt.Errorf("tools: extract %s.%s: %w", t.Name, p.Name, err)
	}
	return cleanValue(resp.Content), nil
}

// cleanValue normalises an extractor answer; the undetermined marker and
// empty answers become "".
func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, "`\"'“”「」")
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, Undetermined) || strings.EqualFold(s, "none") || strings.EqualFold(s, "null") {
		return ""
	}
	return s
}
