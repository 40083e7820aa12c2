package dialogue

import (
	"context"
	"fmt"
	"slices"

	"github.com/eggyy1224/space-live-project-sub000/internal/character"
	"github.com/eggyy1224/space-live-project-sub000/internal/classify"
	"github.com/eggyy1224/space-live-project-sub000/internal/keyframe"
	"github.com/eggyy1224/space-live-project-sub000/internal/memsys"
	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/internal/prompt"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// ── input ────────────────────────────────────────────────────────────────────

func (p *Pipeline) preprocess(_ context.Context, s State) (State, error) {
	s.TurnStart = len(s.Messages)
	s.Messages = slices.Clip(s.Messages)

	if s.Murmur {
		s.Input = ""
		s.Classification = classify.Result{Type: classify.Normal, Sentiment: classify.Neutral, Complexity: classify.Low}
		s.ShouldStoreMemory = false
		return s, nil
	}

	s.Input = classify.Normalize(s.RawInput)
	s.Classification = classify.Classify(s.Input, s.Recent)
	if s.Recent != nil && s.Input != "" {
		s.Recent.Push(s.Input)
	}

	s.ShouldStoreMemory = s.storable()

	s.Messages = appendMessage(s.Messages, types.Message{
		Role:      types.RoleUser,
		Content:   s.Input,
		Timestamp: p.deps.Now(),
	})
	return s, nil
}

// ── memory ───────────────────────────────────────────────────────────────────

func (p *Pipeline) retrieve(ctx context.Context, s State) (State, error) {
	if p.deps.Retriever == nil {
		s.SystemAlert = AlertMemoryMissing
		return s, nil
	}
	if s.Murmur || s.Input == "" {
		return s, nil
	}
	got, err := p.deps.Retriever.Retrieve(ctx, s.Input, s.History())
	s.Retrieved = got
	if err != nil {
		if ctx.Err() != nil {
			return s, fmt.Errorf("dialogue: retrieve: %w", ctx.Err())
		}
		s.SystemAlert = AlertMemoryRetrieval
	}
	return s, nil
}

func (p *Pipeline) filter(_ context.Context, s State) (State, error) {
	if s.SystemAlert == AlertMemoryMissing {
		s.Memories = memsys.NoMemorySystem
		s.PersonaInfo = memsys.FallbackPersona(p.cfg.PersonaFacts)
		return s, nil
	}

	k := memsys.DefaultConversationK
	if p.deps.Retriever != nil {
		k = p.deps.Retriever.ConversationK()
	}
	f := memsys.Filter(s.Input, s.Retrieved, k)
	s.Memories = f.Memories
	s.PersonaInfo = f.Persona
	if s.PersonaInfo == "" {
		s.PersonaInfo = memsys.FallbackPersona(p.cfg.PersonaFacts)
	}
	if s.Memories == "" {
		s.Memories = memsys.NoRelevantFacts
	}
	return s, nil
}

// ── tools ────────────────────────────────────────────────────────────────────

func (p *Pipeline) toolsEnabled() bool {
	return p.deps.Tools != nil && p.deps.Tools.Len() > 0 && p.deps.Detector != nil
}

func (p *Pipeline) detectTool(ctx context.Context, s State) (State, error) {
	s.Intent = tools.Intent{}
	if !p.toolsEnabled() || s.Murmur || s.Input == "" ||
		s.Classification.IsConfused() || s.Classification.Type == classify.VeryShort {
		return s, nil
	}
	intent, err := p.deps.Detector.Detect(ctx, s.History(), s.Input)
	if err != nil {
		if ctx.Err() != nil {
			return s, fmt.Errorf("dialogue: detect tool: %w", ctx.Err())
		}
		observe.Logger(ctx).Warn("tool intent detection failed", "turn_id", s.TurnID, "err", err)
		return s, nil
	}
	s.Intent = intent
	return s, nil
}

func (p *Pipeline) parseParams(ctx context.Context, s State) (State, error) {
	t, ok := p.deps.Tools.Get(s.Intent.Tool)
	if !ok {
		// Execute reports the unknown tool.
		return s, nil
	}
	if p.deps.Extractor == nil {
		if missing := t.Required(); len(missing) > 0 {
			o := tools.MissingOutcome(t, missing)
			s.ToolOutcome = &o
		}
		return s, nil
	}
	ex, err := p.deps.Extractor.Extract(ctx, t, s.History(), s.Input)
	if err != nil {
		return s, fmt.Errorf("dialogue: parse tool parameters: %w", err)
	}
	s.ToolArgs = ex.Args
	if !ex.OK() {
		o := tools.MissingOutcome(t, ex.Missing)
		o.Args = ex.Args
		s.ToolOutcome = &o
	}
	return s, nil
}

func (p *Pipeline) executeTool(ctx context.Context, s State) (State, error) {
	if s.ToolOutcome != nil {
		return s, nil
	}
	o := p.deps.Tools.Execute(ctx, s.Intent.Tool, s.ToolArgs)
	s.ToolOutcome = &o
	if o.Err != nil {
		observe.Logger(ctx).Warn("tool failed", "turn_id", s.TurnID, "tool", o.Tool, "status", o.Status, "err", o.Err)
	}
	return s, nil
}

func (p *Pipeline) formatTool(_ context.Context, s State) (State, error) {
	s.ToolBlock = tools.FormatOutcome(*s.ToolOutcome)
	return s, nil
}

func (p *Pipeline) integrateTool(_ context.Context, s State) (State, error) {
	s.Messages = appendMessage(s.Messages, types.Message{
		Role:      types.RoleTool,
		Name:      s.ToolOutcome.Tool,
		Content:   s.ToolBlock,
		Timestamp: p.deps.Now(),
	})
	if s.ToolFailed() {
		s.ShouldStoreMemory = false
	}
	return s, nil
}

// ── prompt ───────────────────────────────────────────────────────────────────

func (p *Pipeline) selectPrompt(_ context.Context, s State) (State, error) {
	sig := s.signals()
	s.Template = prompt.SelectTemplate(sig)

	p.randMu.Lock()
	s.Style = prompt.SelectStyle(sig, p.deps.Rand)
	p.randMu.Unlock()
	return s, nil
}

func (p *Pipeline) buildPrompt(_ context.Context, s State) (State, error) {
	in := prompt.Inputs{
		PersonaName:      p.cfg.PersonaName,
		UserMessage:      s.Input,
		History:          s.History(),
		HistoryMessages:  p.cfg.HistoryMessages,
		FilteredMemories: s.Memories,
		PersonaInfo:      s.PersonaInfo,
		Character:        s.Character,
		Style:            s.Style,
		RecentMurmurs:    s.RecentMurmurs,
	}
	if s.Murmur {
		in.UserMessage = s.MurmurPrompt
	}
	if s.ToolExecuted() {
		if s.ToolFailed() {
			in.ToolError = s.ToolBlock
		} else {
			in.ToolResult = s.ToolBlock
		}
	}
	sys, err := prompt.Build(s.Template, in)
	if err != nil {
		return s, fmt.Errorf("dialogue: build prompt: %w", err)
	}
	s.SystemPrompt = sys
	return s, nil
}

// ── reply ────────────────────────────────────────────────────────────────────

func (p *Pipeline) analyseKeyframes(ctx context.Context, s State) (State, error) {
	if p.deps.Keyframes == nil || s.SystemAlert == AlertLLMFailed {
		s.Emotions = keyframe.DefaultEmotions()
		s.Body = keyframe.DefaultBody(p.catalogue())
		return s, nil
	}
	res := p.deps.Keyframes.Analyse(ctx, s.Response)
	if res.Err != nil {
		observe.Logger(ctx).Debug("keyframes repaired", "turn_id", s.TurnID, "defaults", res.UsedDefaults, "err", res.Err)
	}
	s.Emotions = res.Emotions
	s.Body = res.Body
	return s, nil
}

func (p *Pipeline) postProcess(ctx context.Context, s State) (State, error) {
	s = p.appendReply(s)
	s.Character = p.nextCharacter(ctx, s)

	if !s.Murmur {
		switch {
		case s.Template == prompt.Clarification || s.Template == prompt.RandomReply:
			s.ErrorCount++
		case s.SystemAlert != AlertLLMFailed && s.LLMFailures == 0:
			s.ErrorCount = 0
		}
	}
	s.Messages = trimHistory(Conversation(s.Messages), p.cfg.MaxMessages)
	return s, nil
}

func (p *Pipeline) appendReply(s State) State {
	s.Messages = appendMessage(s.Messages, types.Message{
		Role:      types.RoleAssistant,
		Content:   s.Response,
		IsMurmur:  s.Murmur,
		Timestamp: p.deps.Now(),
	})
	return s
}

// nextCharacter applies the per-turn gauge drift and records tool tasks.
func (p *Pipeline) nextCharacter(ctx context.Context, s State) character.State {
	updates := map[string]string{character.FieldEnergy: "-1"}
	switch s.Classification.Sentiment {
	case classify.Positive:
		updates[character.FieldMood] = "+2"
	case classify.Negative:
		updates[character.FieldMood] = "-2"
	}
	if s.ToolExecuted() && !s.ToolFailed() {
		updates[character.FieldTaskSuccess] = "+1"
	}
	next, err := s.Character.Apply(updates)
	if err != nil {
		observe.Logger(ctx).Warn("character update rejected", "turn_id", s.TurnID, "err", err)
	}
	if s.ToolExecuted() {
		status := character.TaskSuccess
		if s.ToolFailed() {
			status = character.TaskFailed
		}
		next = next.RecordTask(s.ToolOutcome.Tool, status)
	}
	return next
}

func (p *Pipeline) storeMemory(ctx context.Context, s State) (State, error) {
	if !s.ShouldStoreMemory || s.Murmur || p.deps.Writer == nil {
		return s, nil
	}
	res, err := p.deps.Writer.StoreTurn(ctx, s.TurnID, s.Input, s.Response)
	s.Stored = res
	if err != nil {
		observe.Logger(ctx).Warn("memory write failed", "turn_id", s.TurnID, "err", err)
	}
	return s, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

// storable reports whether the turn is worth persisting, ignoring LLM
// failures.
func (s State) storable() bool {
	if s.Murmur || s.Input == "" || s.ToolFailed() {
		return false
	}
	switch s.Classification.Type {
	case classify.Gibberish, classify.HighlyRepetitive, classify.ModeratelyRepetitive:
		return false
	}
	return true
}

// replied reports whether this turn already appended its assistant message.
func (s State) replied() bool {
	for _, m := range s.Messages[min(s.TurnStart, len(s.Messages)):] {
		if m.Role == types.RoleAssistant {
			return true
		}
	}
	return false
}

// trimHistory keeps the newest n messages.
func trimHistory(msgs []types.Message, n int) []types.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return slices.Clone(msgs[len(msgs)-n:])
}

// Conversation returns msgs without tool messages, the form a session keeps
// between turns.
func Conversation(msgs []types.Message) []types.Message {
	return slices.DeleteFunc(slices.Clone(msgs), func(m types.Message) bool {
		return m.Role == types.RoleTool
	})
}
