package memsys

import (
	"strings"

	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
)

// SummaryPrefix marks summary records in the filtered memory string.
const SummaryPrefix = "[摘要記憶]"

// Separator joins records in the filtered memory string.
const Separator = "\n---\n"

// garbageMarkers flag records of turns that went nowhere: noise inputs and
// the avatar's own "I didn't catch that" replies. Such records are dropped
// unless the current input mentions the same marker.
var garbageMarkers = []string{
	"j8", "dl4", "gps gps", "asdf",
	"沒聽懂", "聽不太懂", "聽不懂", "不太明白你的意思", "訊號有點問題",
}

// Filtered is the prompt-ready memory context.
type Filtered struct {
	// Memories is the relevant-memories string: summaries first, then
	// conversation records, deduplicated and capped.
	Memories string

	// Persona is the persona-info string.
	Persona string

	// Count is the number of records in Memories.
	Count int
}

// Filter merges retrieved records into prompt strings. At most k records
// make it into Memories.
func Filter(input string, got Retrieved, k int) Filtered {
	if k <= 0 {
		k = DefaultConversationK
	}
	lowerInput := strings.ToLower(input)

	seen := make(map[string]struct{})
	parts := make([]string, 0, k)
	add := func(text, prefix string) {
		text = strings.TrimSpace(text)
		if text == "" || len(parts) >= k {
			return
		}
		if isGarbage(text, lowerInput) {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		parts = append(parts, prefix+text)
	}

	for _, r := range got.Summary {
		add(r.Record.Text, SummaryPrefix)
	}
	for _, r := range got.Conversation {
		add(r.Record.Text, "")
	}

	return Filtered{
		Memories: strings.Join(parts, Separator),
		Persona:  PersonaText(got.Persona),
		Count:    len(parts),
	}
}

// PersonaText joins persona records one per line.
func PersonaText(results []memory.Result) string {
	lines := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		t := strings.TrimSpace(r.Record.Text)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		lines = append(lines, t)
	}
	return strings.Join(lines, "\n")
}

func isGarbage(text, lowerInput string) bool {
	lower := strings.ToLower(text)
	for _, m := range garbageMarkers {
		if strings.Contains(lower, m) && !strings.Contains(lowerInput, m) {
			return true
		}
	}
	return false
}

// Fallback strings used when the memory system is unavailable.
const (
	NoMemorySystem  = "（記憶系統暫時無法使用）"
	NoRelevantFacts = "（沒有相關的記憶）"
)

// FallbackPersona renders facts as a persona string for degraded turns.
func FallbackPersona(facts []string) string {
	if len(facts) == 0 {
		facts = DefaultPersonaFacts
	}
	return strings.Join(facts, "\n")
}
