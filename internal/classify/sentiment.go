package classify

import "strings"

// Negative phrases are matched and removed first so that "不喜歡" does not
// also count as "喜歡".
var (
	negativeWords = []string{
		"不喜歡", "不開心", "不好", "難過", "傷心", "討厭", "生氣", "煩", "累", "糟",
		"爛", "無聊", "害怕", "孤單", "寂寞", "痛", "失望", "哭",
	}
	positiveWords = []string{
		"開心", "高興", "喜歡", "愛", "棒", "好玩", "厲害", "謝謝", "讚", "太好了",
		"有趣", "期待", "快樂", "酷", "漂亮",
	}
)

func sentimentOf(u string) Sentiment {
	text := strings.ToLower(u)
	neg := 0
	for _, w := range negativeWords {
		if c := strings.Count(text, w); c > 0 {
			neg += c
			text = strings.ReplaceAll(text, w, " ")
		}
	}
	pos := 0
	for _, w := range positiveWords {
		pos += strings.Count(text, w)
	}
	switch {
	case neg > pos:
		return Negative
	case pos > neg:
		return Positive
	default:
		return Neutral
	}
}
