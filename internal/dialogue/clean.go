package dialogue

import (
	"regexp"
	"strings"
)

var (
	// Leading stage directions such as （輕聲自語） or (whispers).
	narration = regexp.MustCompile(`^\s*(?:（[^）]{0,20}）|\([^)]{0,20}\)|\*[^*]{1,20}\*)\s*`)

	markdownMarks = strings.NewReplacer("**", "", "__", "", "`", "", "~~", "")
	headingPrefix = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	bulletPrefix  = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
)

// StripNarration removes leading stage directions, repeated as long as any
// remain.
func StripNarration(s string) string {
	for {
		next := narration.ReplaceAllString(s, "")
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
}

// CleanReply prepares raw model text for display and speech: it drops a
// leading speaker label ("小星：", "小星:"), stage directions and markdown
// markup, and trims surrounding quotes.
func CleanReply(raw, persona string) string {
	s := strings.TrimSpace(raw)
	for _, label := range []string{persona, "Assistant", "assistant"} {
		if label == "" {
			continue
		}
		for _, sep := range []string{"：", ":"} {
			if rest, ok := strings.CutPrefix(s, label+sep); ok {
				s = strings.TrimSpace(rest)
			}
		}
	}
	s = StripNarration(s)
	s = headingPrefix.ReplaceAllString(s, "")
	s = bulletPrefix.ReplaceAllString(s, "")
	s = markdownMarks.Replace(s)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) >= 2 && ((r[0] == '「' && r[len(r)-1] == '」') || (r[0] == '"' && r[len(r)-1] == '"')) {
		if inner := string(r[1 : len(r)-1]); !strings.ContainsAny(inner, "「」\"") {
			s = strings.TrimSpace(inner)
		}
	}
	return s
}
