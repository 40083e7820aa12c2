package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// FallbackReplies are spoken when every LLM attempt failed.
var FallbackReplies = []string{
	"哎呀，太空站的通訊好像有點不穩定，可以再說一次嗎？",
	"抱歉，我剛剛被太陽風干擾了一下，你可以再問我一次嗎？",
	"嗯……我的思緒飄到軌道另一頭去了，請再跟我說一遍好嗎？",
	"訊號好像斷斷續續的，等我調整一下天線，你再說一次吧！",
}

func fallbackReply(errorCount int) string {
	return FallbackReplies[max(errorCount, 0)%len(FallbackReplies)]
}

var errEmptyReply = errors.New("dialogue: empty reply")

// callLLM asks for the in-character reply, retrying within the node. When
// every attempt fails the turn continues with a canned reply and the LLM
// alert is raised; the retry edge may then route back to prompt selection
// once.
func (p *Pipeline) callLLM(ctx context.Context, s State) (State, error) {
	user := s.Input
	if s.Murmur {
		user = s.MurmurPrompt
	}
	if user == "" {
		user = "（觀眾沒有說話）"
	}
	req := llm.CompletionRequest{
		SystemPrompt: s.SystemPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: user}},
		Temperature:  p.cfg.Generation.Temperature,
		TopP:         p.cfg.Generation.TopP,
		TopK:         p.cfg.Generation.TopK,
		MaxTokens:    p.cfg.Generation.MaxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.LLMAttempts; attempt++ {
		raw, err := p.complete(ctx, req)
		if err == nil {
			s.RawResponse = raw
			s.Response = CleanReply(raw, p.cfg.PersonaName)
			if s.Response != "" {
				if s.SystemAlert == AlertLLMFailed {
					s.SystemAlert = ""
					s.ShouldStoreMemory = s.storable()
				}
				return s, nil
			}
			err = errEmptyReply
		}
		if ctx.Err() != nil {
			return s, fmt.Errorf("dialogue: call llm: %w", ctx.Err())
		}
		lastErr = err
		observe.Logger(ctx).Warn("reply attempt failed",
			"turn_id", s.TurnID, "attempt", attempt, "template", s.Template, "err", err)
	}

	s.LLMFailures++
	s.ErrorCount++
	s.SystemAlert = AlertLLMFailed
	s.ShouldStoreMemory = false
	s.RawResponse = ""
	s.Response = fallbackReply(s.ErrorCount)
	observe.Logger(ctx).Error("all reply attempts failed",
		"turn_id", s.TurnID, "failures", s.LLMFailures, "err", lastErr)
	return s, nil
}

func (p *Pipeline) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	if p.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.LLMTimeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := p.deps.LLM.Complete(ctx, req)
	p.deps.Metrics.RecordLLM(ctx, "reply", time.Since(start).Seconds(), err != nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
