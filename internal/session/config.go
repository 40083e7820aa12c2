package session

import "time"

// Default scheduling parameters.
const (
	DefaultIdleTimeout       = 15 * time.Second
	DefaultIdleCheckInterval = 3 * time.Second
	DefaultMurmurMinInterval = 25 * time.Second
	DefaultMurmurSimilarity  = 0.6
	DefaultSpeechBufferMax   = 600 * time.Millisecond
	DefaultSpeakingGrace     = 2 * time.Second
	DefaultMurmurRingSize    = 10
	DefaultMurmurContext     = 3
	DefaultMaxHistory        = 20
	DefaultCloseGrace        = time.Second
)

// Config tunes one session. Zero fields take the defaults above.
type Config struct {
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	MurmurMinInterval time.Duration

	// MurmurSimilarity is the character-set Jaccard score above which a new
	// murmur counts as a repeat.
	MurmurSimilarity float64

	// SpeechBufferMax caps the pause added after playback before the
	// speaking flag clears.
	SpeechBufferMax time.Duration

	// SpeakingGrace is the quiet time required after the speaking flag
	// clears before a murmur may fire.
	SpeakingGrace time.Duration

	MurmurRingSize int

	// MurmurContext is how many previous murmurs the prompt lists.
	MurmurContext int

	MaxHistory int
	CloseGrace time.Duration
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.IdleTimeout, DefaultIdleTimeout)
	def(&c.IdleCheckInterval, DefaultIdleCheckInterval)
	def(&c.MurmurMinInterval, DefaultMurmurMinInterval)
	def(&c.SpeechBufferMax, DefaultSpeechBufferMax)
	def(&c.SpeakingGrace, DefaultSpeakingGrace)
	def(&c.CloseGrace, DefaultCloseGrace)
	if c.MurmurSimilarity <= 0 || c.MurmurSimilarity > 1 {
		c.MurmurSimilarity = DefaultMurmurSimilarity
	}
	if c.MurmurRingSize <= 0 {
		c.MurmurRingSize = DefaultMurmurRingSize
	}
	if c.MurmurContext <= 0 {
		c.MurmurContext = DefaultMurmurContext
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	return c
}

// SpeechBuffer is the pause after d of playback: 0.3 s plus 3 % of d,
// capped at SpeechBufferMax.
func (c Config) SpeechBuffer(d time.Duration) time.Duration {
	buf := 300*time.Millisecond + time.Duration(0.03*float64(d))
	return min(buf, c.SpeechBufferMax)
}
