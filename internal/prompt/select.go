// Package prompt chooses how the avatar answers a turn and renders the
// system prompt for it.
//
// Selection is two independent decisions: a [Template] key from the ordered
// routing rules in [SelectTemplate], and a dialogue [Style] from
// [SelectStyle]. [Build] then binds every prompt variable and renders the
// chosen template.
package prompt

import (
	"math/rand/v2"
	"strings"

	"github.com/eggyy1224/space-live-project-sub000/internal/character"
	"github.com/eggyy1224/space-live-project-sub000/internal/classify"
)

// Template is a prompt template key.
type Template string

const (
	Standard          Template = "standard"
	Clarification     Template = "clarification"
	RandomReply       Template = "random_reply"
	Error             Template = "error"
	ToolResponse      Template = "tool_response"
	ToolErrorResponse Template = "tool_error_response"
	Murmur            Template = "murmur"
)

// AlertLLMFailed is the system_alert value set when every LLM attempt of a
// call failed.
const AlertLLMFailed = "llm_error_all_attempts_failed"

// Signals is everything template and style selection look at.
type Signals struct {
	Input          string
	Classification classify.Result
	Character      character.State
	ErrorCount     int
	SystemAlert    string

	// ToolExecuted is true when the tool path chose and ran a tool.
	ToolExecuted bool
	ToolFailed   bool

	// Murmur marks a system-triggered idle monologue.
	Murmur bool
}

func (s Signals) llmFailed() bool {
	return strings.HasPrefix(s.SystemAlert, "llm_error")
}

// SelectTemplate applies the routing rules in order:
//
//  1. an LLM error alert with more than one error so far selects [Error];
//  2. empty input, gibberish or highly repetitive input selects
//     [Clarification] while fewer than two errors have accumulated and
//     [RandomReply] after that;
//  3. very short input that also repeats (level > 0.5) selects
//     [Clarification];
//  4. an executed tool selects [ToolResponse] or [ToolErrorResponse];
//  5. everything else is [Standard].
//
// Murmurs always use [Murmur] unless rule 1 applies.
func SelectTemplate(s Signals) Template {
	c := s.Classification
	switch {
	case s.llmFailed() && s.ErrorCount > 1:
		return Error
	case s.Murmur:
		return Murmur
	case strings.TrimSpace(s.Input) == "":
		return Clarification
	case c.IsConfused():
		if s.ErrorCount < 2 {
			return Clarification
		}
		return RandomReply
	case c.Type == classify.VeryShort && c.RepetitionLevel > classify.ModerateRepetition:
		return Clarification
	case s.ToolExecuted && s.ToolFailed:
		return ToolErrorResponse
	case s.ToolExecuted:
		return ToolResponse
	default:
		return Standard
	}
}

// Style is a dialogue style.
type Style string

const (
	Enthusiastic Style = "enthusiastic"
	Thoughtful   Style = "thoughtful"
	Humorous     Style = "humorous"
	Caring       Style = "caring"
	Curious      Style = "curious"
	Tired        Style = "tired"
	Clarifying   Style = "clarifying"
)

var styleDescriptions = map[Style]string{
	Enthusiastic: "熱情洋溢，語氣充滿活力，對太空的一切都興奮不已",
	Thoughtful:   "沉穩深思，會停下來想一想，用比喻把事情說清楚",
	Humorous:     "輕鬆幽默，喜歡開一點無重力生活的小玩笑",
	Caring:       "溫柔體貼，先關心對方的感受，再分享自己的想法",
	Curious:      "充滿好奇，會反問對方的看法，想知道更多",
	Tired:        "有點疲倦，語速放慢，回答簡短但依然友善",
	Clarifying:   "耐心溫和，坦白說自己沒聽懂，請對方再說清楚一點",
}

// Describe returns the natural-language description bound into prompts.
func (s Style) Describe() string {
	if d, ok := styleDescriptions[s]; ok {
		return d
	}
	return styleDescriptions[Thoughtful]
}

// LowEnergy is the energy gauge below which the avatar sounds tired.
const LowEnergy = 30

type weighted struct {
	style  Style
	weight float64
}

var bandStyles = map[character.MoodBand][]weighted{
	character.MoodHigh: {{Enthusiastic, 0.4}, {Humorous, 0.3}, {Curious, 0.3}},
	character.MoodMid:  {{Thoughtful, 0.3}, {Curious, 0.25}, {Humorous, 0.2}, {Enthusiastic, 0.15}, {Caring, 0.1}},
	character.MoodLow:  {{Thoughtful, 0.4}, {Caring, 0.3}, {Tired, 0.3}},
}

// SelectStyle picks the dialogue style. Gibberish and very short input get
// [Clarifying], negative sentiment [Caring], low energy [Tired]; otherwise the
// style is drawn from the weighted candidates of the current mood band using
// rnd (the global source when nil).
func SelectStyle(s Signals, rnd *rand.Rand) Style {
	c := s.Classification
	switch {
	case !s.Murmur && (c.Type == classify.Gibberish || c.Type == classify.VeryShort):
		return Clarifying
	case c.Sentiment == classify.Negative:
		return Caring
	case s.Character.Energy < LowEnergy:
		return Tired
	}

	candidates := bandStyles[s.Character.Band()]
	total := 0.0
	for _, w := range candidates {
		total += w.weight
	}
	var x float64
	if rnd != nil {
		x = rnd.Float64() * total
	} else {
		x = rand.Float64() * total
	}
	for _, w := range candidates {
		if x < w.weight {
			return w.style
		}
		x -= w.weight
	}
	return candidates[len(candidates)-1].style
}
