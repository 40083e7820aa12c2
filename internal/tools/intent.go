package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// NoTool is the detector answer meaning the turn needs no tool.
const NoTool = "none"

// Detection confidences.
const (
	ConfidenceRecognised = 0.9
	ConfidenceNone       = 0.0
)

// intentHistory is how many trailing messages the intent prompt shows.
const intentHistory = 4

// fuzzyThreshold is the minimum Jaro-Winkler score for a slightly-off answer
// to resolve to a registered name.
const fuzzyThreshold = 0.9

// Intent is the detector's verdict for one turn.
type Intent struct {
	// Tool is the chosen tool name, or "" when no tool is needed.
	Tool string

	// Confidence is [ConfidenceRecognised] when Tool is set, otherwise
	// [ConfidenceNone].
	Confidence float64

	// Raw is the unprocessed LLM answer.
	Raw string
}

// HasTool reports whether a tool was chosen.
func (i Intent) HasTool() bool { return i.Tool != "" }

// Detector asks the LLM whether a turn calls for one of the registered tools.
type Detector struct {
	llm      llm.Provider
	registry *Registry
	metrics  *observe.Metrics
}

// NewDetector returns a detector over the tools in reg.
func NewDetector(p llm.Provider, reg *Registry, m *observe.Metrics) *Detector {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Detector{llm: p, registry: reg, metrics: m}
}

// Detect classifies input. With an empty registry it answers no-tool without
// calling the LLM. An LLM failure is returned to the caller, which treats it
// as no-tool.
func (d *Detector) Detect(ctx context.Context, history []types.Message, input string) (Intent, error) {
	if d.registry.Len() == 0 || strings.TrimSpace(input) == "" {
		return Intent{}, nil
	}

	prompt := d.prompt(history, input)
	start := time.Now()
	resp, err := d.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "你是工具路由器，只輸出一個工具名稱或 none，不要輸出其他文字。",
		Messages:     []types.Message{{Role: types.RoleUser, Content: prompt}},
		Temperature:  0,
		MaxTokens:    20,
	})
	d.metrics.RecordLLM(ctx, "tool_intent", time.Since(start).Seconds(), err != nil)
	if err != nil {
		return Intent{}, fmt.Errorf("tools: detect intent: %w", err)
	}

	name := d.Resolve(resp.Content)
	if name == "" {
		return Intent{Confidence: ConfidenceNone, Raw: resp.Content}, nil
	}
	return Intent{Tool: name, Confidence: ConfidenceRecognised, Raw: resp.Content}, nil
}

// Resolve maps a raw LLM answer to a registered tool name, or "" for none
// or an unrecognised answer. Exact matches win; otherwise the closest name
// by Jaro-Winkler similarity is accepted above a fixed threshold.
func (d *Detector) Resolve(answer string) string {
	a := cleanAnswer(answer)
	if a == "" || strings.EqualFold(a, NoTool) {
		return ""
	}
	names := d.registry.Names()
	for _, n := range names {
		if strings.EqualFold(a, n) {
			return n
		}
	}

	first := strings.Fields(a)
	if len(first) > 0 {
		for _, n := range names {
			if strings.EqualFold(first[0], n) {
				return n
			}
		}
	}

	best, bestScore := "", 0.0
	lower := strings.ToLower(a)
	for _, n := range names {
		if s := matchr.JaroWinkler(lower, strings.ToLower(n), false); s > bestScore {
			best, bestScore = n, s
		}
	}
	if bestScore >= fuzzyThreshold {
		return best
	}
	return ""
}

func cleanAnswer(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, "`\"'“”「」。.，, \t")
}

func (d *Detector) prompt(history []types.Message, input string) string {
	var b strings.Builder
	b.WriteString("可用工具：\n")
	b.WriteString(d.registry.Describe())
	b.WriteString("\n\n最近對話：\n")
	b.WriteString(formatTail(history, intentHistory))
	fmt.Fprintf(&b, "\n用戶最新訊息：%s\n\n", input)
	b.WriteString("如果回答這則訊息需要使用上面的某個工具，請只回答該工具的名稱；否則只回答 none。")
	return b.String()
}

// formatTail renders the last n messages as role-prefixed lines.
func formatTail(history []types.Message, n int) string {
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	if len(history) == 0 {
		return "（無）"
	}
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case types.RoleUser:
			b.WriteString("用戶：")
		case types.RoleTool:
			b.WriteString("工具：")
		default:
			b.WriteString("助手：")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
