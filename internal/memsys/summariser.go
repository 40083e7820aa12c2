package memsys

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

const summarisationPrompt = `你是一位記憶整理助手。以下是太空網紅和觀眾之間的多段對話紀錄，每段以 input（觀眾）與 output（網紅）表示。
請用繁體中文寫一段不超過一百五十字的摘要，保留：觀眾提過的個人資訊與偏好、聊過的主題、網紅做出的承諾或分享的重要事實。
只輸出摘要本身，不要加標題或條列。`

// Summariser condenses a batch of stored conversation texts.
type Summariser interface {
	Summarise(ctx context.Context, texts []string) (string, error)
}

// LLMSummariser summarises with a chat LLM at low temperature.
type LLMSummariser struct {
	llm     llm.Provider
	metrics *observe.Metrics
}

var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser returns a summariser backed by p.
func NewLLMSummariser(p llm.Provider, m *observe.Metrics) *LLMSummariser {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &LLMSummariser{llm: p, metrics: m}
}

// Summarise sends the numbered texts as one user message and returns the
// trimmed summary.
func (s *LLMSummariser) Summarise(ctx context.Context, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&sb, "【第 %d 段】\n%s\n", i+1, t)
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
	})
	s.metrics.RecordLLM(ctx, "summary", time.Since(start).Seconds(), err != nil)
	if err != nil {
		return "", fmt.Errorf("memsys: summarise: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
