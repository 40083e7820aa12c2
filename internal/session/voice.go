package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts"
)

// AudioURLPrefix is where the server exposes the audio directory.
const AudioURLPrefix = "/audio-file/"

// Voice synthesises replies into MP3 files under a directory served at
// [AudioURLPrefix]. A nil *Voice produces no audio and estimates durations.
type Voice struct {
	tts     tts.Provider
	dir     string
	metrics *observe.Metrics
}

// NewVoice creates dir if needed and returns a Voice writing into it.
func NewVoice(p tts.Provider, dir string, m *observe.Metrics) (*Voice, error) {
	if p == nil {
		return nil, fmt.Errorf("session: voice needs a tts provider")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create audio dir: %w", err)
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Voice{tts: p, dir: dir, metrics: m}, nil
}

// Dir returns the audio directory.
func (v *Voice) Dir() string { return v.dir }

// Render synthesises text as <id>.mp3 and returns its URL and playback
// length. Synthesis failures are logged and yield an empty URL with an
// estimated length, so the reply still goes out as text.
func (v *Voice) Render(ctx context.Context, id, text string) (string, time.Duration) {
	estimate := tts.EstimateDuration(text)
	if v == nil || text == "" {
		return "", estimate
	}

	start := time.Now()
	speech, err := v.tts.Synthesize(ctx, text)
	v.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil || speech == nil || len(speech.Audio) == 0 {
		observe.Logger(ctx).Warn("speech synthesis failed", "reply_id", id, "err", err)
		return "", estimate
	}

	name := id + ".mp3"
	if err := writeAtomic(filepath.Join(v.dir, name), speech.Audio); err != nil {
		observe.Logger(ctx).Warn("audio write failed", "reply_id", id, "err", err)
		return "", estimate
	}

	d := speech.Duration
	if d <= 0 {
		d = tts.MP3Duration(speech.Audio)
	}
	if d <= 0 {
		d = estimate
	}
	return AudioURLPrefix + name, d
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audio-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
