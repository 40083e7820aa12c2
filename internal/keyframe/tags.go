package keyframe

// EmotionTags is the closed set of facial emotion tags the renderer knows.
var EmotionTags = []string{
	"neutral", "happy", "sad", "angry", "surprised", "fearful", "disgusted",
	"thinking", "curious", "excited", "calm", "confused", "shy", "proud",
	"playful", "tired", "sleepy", "bored", "worried", "relieved", "grateful",
	"hopeful", "nostalgic", "lonely", "amazed", "amused", "embarrassed",
	"determined", "focused", "skeptical", "sympathetic", "caring", "loving",
	"joyful", "content", "nervous", "annoyed", "frustrated", "disappointed",
	"melancholy", "serene", "dreamy", "mischievous", "teasing", "laughing",
	"smiling", "sighing", "yawning", "wink", "pout", "awe",
}

// DefaultEmotion and DefaultAnimation anchor default and repaired tracks.
const (
	DefaultEmotion   = "neutral"
	DefaultAnimation = "Idle"
)

var emotionSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(EmotionTags))
	for _, t := range EmotionTags {
		m[t] = struct{}{}
	}
	return m
}()

// IsEmotionTag reports whether tag is in [EmotionTags].
func IsEmotionTag(tag string) bool {
	_, ok := emotionSet[tag]
	return ok
}
