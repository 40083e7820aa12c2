package character

import (
	"fmt"
	"strings"
)

// MoodBand classifies mood for style selection.
type MoodBand int

const (
	MoodLow MoodBand = iota
	MoodMid
	MoodHigh
)

// Band returns the mood band: above 80 is high, 40 to 80 is mid, below 40 low.
func (s State) Band() MoodBand {
	switch {
	case s.Mood > 80:
		return MoodHigh
	case s.Mood >= 40:
		return MoodMid
	default:
		return MoodLow
	}
}

// Digest renders the gauges and day count as a short natural-language
// description for prompt templates.
func (s State) Digest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "在太空中的第 %d 天。", s.DaysInSpace)
	fmt.Fprintf(&b, "健康狀態%s（%d/100），", describe(s.Health, "極佳", "良好", "有些不適"), s.Health)
	fmt.Fprintf(&b, "心情%s（%d/100），", describe(s.Mood, "非常愉快", "平穩", "低落"), s.Mood)
	fmt.Fprintf(&b, "精力%s（%d/100）。", describe(s.Energy, "充沛", "尚可", "疲憊"), s.Energy)
	if s.TaskSuccess > 0 {
		fmt.Fprintf(&b, "已成功完成 %d 項任務。", s.TaskSuccess)
	}
	return b.String()
}

func describe(v int, high, mid, low string) string {
	switch {
	case v > 80:
		return high
	case v >= 40:
		return mid
	default:
		return low
	}
}

// TaskOrDefault returns the current task or the placeholder used in prompts
// when there is none.
func (s State) TaskOrDefault() string {
	if strings.TrimSpace(s.CurrentTask) == "" {
		return "無特定任務"
	}
	return s.CurrentTask
}
