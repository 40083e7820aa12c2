// Package classify labels user input before the dialogue graph decides how to
// answer it. Classification is pure and deterministic: the same input and
// [Recent] buffer always yield the same [Result].
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Type is the primary input label.
type Type string

const (
	Normal               Type = "normal"
	Question             Type = "question"
	Gibberish            Type = "gibberish"
	HighlyRepetitive     Type = "highly_repetitive"
	ModeratelyRepetitive Type = "moderately_repetitive"
	VeryShort            Type = "very_short"
)

// Sentiment values.
type Sentiment string

const (
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
	Positive Sentiment = "positive"
)

// Complexity values.
type Complexity string

const (
	Low    Complexity = "low"
	Medium Complexity = "medium"
	High   Complexity = "high"
)

// Repetition thresholds on the character-set Jaccard similarity.
const (
	HighRepetition     = 0.8
	ModerateRepetition = 0.5
)

// VeryShortMaxRunes is the longest trimmed input still labelled [VeryShort].
const VeryShortMaxRunes = 2

// Result is the classification of one input.
type Result struct {
	Type            Type       `json:"type"`
	Sentiment       Sentiment  `json:"sentiment"`
	RepetitionLevel float64    `json:"repetition_level"`
	Complexity      Complexity `json:"complexity"`
}

// IsConfused reports whether the input should be answered with a
// clarification rather than a normal reply.
func (r Result) IsConfused() bool {
	return r.Type == Gibberish || r.Type == HighlyRepetitive
}

var (
	shortAlnum  = regexp.MustCompile(`^[A-Za-z0-9]{1,3}$`)
	punctOnly   = regexp.MustCompile(`^[^\p{L}\p{N}_\s]+$`)
	noiseFields = map[string]struct{}{
		"j8": {}, "dl4": {}, "4y": {}, "asdf": {}, "qwer": {}, "zxcv": {}, "xd": {},
	}
	noisePhrases = []string{"gps gps", "test test", "喂喂喂"}
)

// Normalize folds full-width forms and applies NFKC, then trims space. It is
// the form every other function in this package operates on.
func Normalize(s string) string {
	return strings.TrimSpace(norm.NFKC.String(width.Fold.String(s)))
}

// Classify labels input against the recent inputs in history. Rules apply in
// order: noise tokens, length, symbol-only or short alphanumeric strings,
// repetition, then question markers. Sentiment and complexity are always
// computed.
func Classify(input string, history *Recent) Result {
	u := Normalize(input)
	res := Result{
		Type:       Normal,
		Sentiment:  sentimentOf(u),
		Complexity: complexityOf(u),
	}
	if history != nil {
		res.RepetitionLevel = history.MaxSimilarity(u)
	}

	switch {
	case hasNoise(u):
		res.Type = Gibberish
	case utf8.RuneCountInString(u) <= VeryShortMaxRunes:
		res.Type = VeryShort
	case shortAlnum.MatchString(u) || punctOnly.MatchString(u):
		res.Type = Gibberish
	case res.RepetitionLevel > HighRepetition:
		res.Type = HighlyRepetitive
	case res.RepetitionLevel > ModerateRepetition:
		res.Type = ModeratelyRepetitive
	case isQuestion(u):
		res.Type = Question
	}
	return res
}

func hasNoise(u string) bool {
	lower := strings.ToLower(u)
	for _, p := range noisePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	fields := strings.Fields(lower)
	for i, f := range fields {
		if _, ok := noiseFields[f]; ok {
			return true
		}
		if i >= 2 && f == fields[i-1] && f == fields[i-2] {
			return true
		}
	}
	return false
}

var (
	questionSuffixes = []string{"?", "嗎", "呢", "麼", "誰", "哪", "幾", "如何", "多少", "沒有"}
	questionPrefixes = []string{"什麼", "為什麼", "為何", "怎麼", "怎樣", "如何", "是不是", "是否", "能不能", "可不可以", "有沒有", "請問", "誰", "哪"}
)

func isQuestion(u string) bool {
	trimmed := strings.TrimRight(u, "。.!~ ")
	for _, s := range questionSuffixes {
		if strings.HasSuffix(trimmed, s) {
			return true
		}
	}
	for _, p := range questionPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func complexityOf(u string) Complexity {
	n := utf8.RuneCountInString(u)
	switch {
	case n < 10:
		return Low
	case n < 30:
		return Medium
	default:
		return High
	}
}
