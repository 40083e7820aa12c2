package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/eggyy1224/space-live-project-sub000/internal/character"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// DefaultHistoryMessages is how many history messages are bound into
// conversation_history when Inputs.HistoryMessages is zero.
const DefaultHistoryMessages = 10

var compiled = func() map[Template]*template.Template {
	base := template.Must(template.New("base").Option("missingkey=error").Parse(personaFrame + rules))
	out := make(map[Template]*template.Template, len(sources))
	for key, src := range sources {
		t := template.Must(template.Must(base.Clone()).New(string(key)).Parse(src))
		out[key] = t
	}
	return out
}()

// Templates returns the known template keys.
func Templates() []Template {
	keys := make([]Template, 0, len(compiled))
	for k := range compiled {
		keys = append(keys, k)
	}
	return keys
}

// Inputs are the values bound into a template.
type Inputs struct {
	PersonaName string
	UserMessage string

	// History is the dialogue before the current turn, oldest first. Tool
	// messages are skipped when rendering.
	History         []types.Message
	HistoryMessages int

	FilteredMemories string
	PersonaInfo      string
	Character        character.State
	Style            Style

	ToolResult string
	ToolError  string

	// RecentMurmurs are the last murmurs to avoid repeating.
	RecentMurmurs []string
}

// Vars returns the template variables by name.
func (in Inputs) Vars() map[string]any {
	murmurs := make([]string, 0, len(in.RecentMurmurs))
	for _, m := range in.RecentMurmurs {
		murmurs = append(murmurs, "  「"+m+"」")
	}
	return map[string]any{
		"persona_name":         in.PersonaName,
		"user_message":         in.UserMessage,
		"conversation_history": FormatHistory(in.History, in.PersonaName, in.HistoryMessages),
		"filtered_memories":    orNone(in.FilteredMemories),
		"persona_info":         orNone(in.PersonaInfo),
		"character_state":      in.Character.Digest(),
		"current_task":         in.Character.TaskOrDefault(),
		"dialogue_style":       in.Style.Describe(),
		"tool_result":          in.ToolResult,
		"tool_error":           in.ToolError,
		"recent_murmurs":       strings.Join(murmurs, "\n"),
	}
}

// Build renders the template for key.
func Build(key Template, in Inputs) (string, error) {
	t, ok := compiled[key]
	if !ok {
		return "", fmt.Errorf("prompt: unknown template %q", key)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, string(key), in.Vars()); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", key, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FormatHistory renders the last n messages as "User: …" and "<persona>: …"
// lines. Tool messages are omitted.
func FormatHistory(msgs []types.Message, persona string, n int) string {
	if n <= 0 {
		n = DefaultHistoryMessages
	}
	if persona == "" {
		persona = "Assistant"
	}
	lines := make([]string, 0, n)
	for i := len(msgs) - 1; i >= 0 && len(lines) < n; i-- {
		m := msgs[i]
		switch m.Role {
		case types.RoleUser:
			lines = append(lines, "User: "+m.Content)
		case types.RoleAssistant:
			lines = append(lines, persona+": "+m.Content)
		}
	}
	if len(lines) == 0 {
		return "（這是對話的開始）"
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "（無）"
	}
	return s
}
