// Package dialogue is the avatar's turn pipeline: a state graph that
// classifies the input, retrieves layered memory, optionally runs a tool,
// picks a prompt, calls the LLM, derives keyframes from the reply and
// persists the turn.
//
// The graph never fails from the caller's point of view. [Pipeline.Run]
// always returns a state with a non-empty reply and valid keyframe tracks;
// every failure is folded into State fields (SystemAlert, ErrorCount, tool
// status) instead.
package dialogue

import (
	"slices"

	"github.com/eggyy1224/space-live-project-sub000/internal/character"
	"github.com/eggyy1224/space-live-project-sub000/internal/classify"
	"github.com/eggyy1224/space-live-project-sub000/internal/memsys"
	"github.com/eggyy1224/space-live-project-sub000/internal/prompt"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// System alert values.
const (
	AlertMemoryMissing   = "memory_system_not_found"
	AlertMemoryRetrieval = "memory_retrieval_error"
	AlertLLMFailed       = prompt.AlertLLMFailed
	AlertRecursionLimit  = "graph_recursion_limit"
)

// State is threaded through every node. Nodes receive a value and return an
// updated value; slices are copied before they are appended to so that the
// caller's snapshot is never mutated.
type State struct {
	// TurnID identifies the turn for idempotent memory writes.
	TurnID string

	RawInput string
	Input    string

	// Murmur marks a system-triggered idle monologue. MurmurPrompt is the
	// trigger text sent to the LLM in place of a user message.
	Murmur        bool
	MurmurPrompt  string
	RecentMurmurs []string

	Classification classify.Result

	// Recent is the session's ring of recent inputs. The graph reads it for
	// repetition scoring and pushes the processed input.
	Recent *classify.Recent

	Messages  []types.Message
	Character character.State

	// TurnStart is len(Messages) before this turn appended anything.
	TurnStart int

	Retrieved   memsys.Retrieved
	Memories    string
	PersonaInfo string

	Intent      tools.Intent
	ToolArgs    map[string]string
	ToolOutcome *tools.Outcome
	ToolBlock   string

	Template     prompt.Template
	Style        prompt.Style
	SystemPrompt string

	RawResponse string
	Response    string
	Emotions    []types.EmotionKeyframe
	Body        []types.BodyKeyframe

	// ErrorCount carries across turns: it grows on clarification turns and
	// exhausted LLM calls and is reset by a successful normal turn.
	ErrorCount int

	// LLMFailures counts exhausted LLM calls within this turn.
	LLMFailures int

	SystemAlert       string
	ShouldStoreMemory bool
	Stored            memsys.WriteResult
}

// ToolExecuted reports whether the tool path ran (successfully or not).
func (s State) ToolExecuted() bool { return s.ToolOutcome != nil }

// ToolFailed reports whether the tool path ran and failed.
func (s State) ToolFailed() bool { return s.ToolOutcome != nil && s.ToolOutcome.Status.Failed() }

// History returns the messages from before this turn.
func (s State) History() []types.Message {
	return s.Messages[:min(s.TurnStart, len(s.Messages))]
}

func (s State) signals() prompt.Signals {
	return prompt.Signals{
		Input:          s.Input,
		Classification: s.Classification,
		Character:      s.Character,
		ErrorCount:     s.ErrorCount,
		SystemAlert:    s.SystemAlert,
		ToolExecuted:   s.ToolExecuted(),
		ToolFailed:     s.ToolFailed(),
		Murmur:         s.Murmur,
	}
}

func appendMessage(msgs []types.Message, m types.Message) []types.Message {
	return append(slices.Clip(msgs), m)
}
