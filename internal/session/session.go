// Package session owns the per-connection conversational state of the
// avatar: message history, character gauges, the speaking flag and the idle
// monologue scheduler.
//
// A user turn and a murmur never run at the same time. Both hold the
// session's processing lock for the whole graph run; the idle loop only
// try-acquires it, so a murmur can be pre-empted by a user turn only before
// it starts.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eggyy1224/space-live-project-sub000/internal/character"
	"github.com/eggyy1224/space-live-project-sub000/internal/classify"
	"github.com/eggyy1224/space-live-project-sub000/internal/dialogue"
	"github.com/eggyy1224/space-live-project-sub000/internal/graph"
	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Runner executes one dialogue turn. [*dialogue.Pipeline] implements it.
type Runner interface {
	Run(ctx context.Context, in dialogue.State, opts ...graph.RunOption) dialogue.State
}

var _ Runner = (*dialogue.Pipeline)(nil)

// Emitter delivers replies to the client.
type Emitter interface {
	Emit(ctx context.Context, r Reply) error
}

// EmitterFunc adapts a function to [Emitter].
type EmitterFunc func(ctx context.Context, r Reply) error

// Emit implements [Emitter].
func (f EmitterFunc) Emit(ctx context.Context, r Reply) error { return f(ctx, r) }

// Reply is one avatar utterance with its animation tracks.
type Reply struct {
	// ID is "bot-<epoch-ms>" or "bot-murmur-<epoch-ms>".
	ID       string
	Content  string
	IsMurmur bool

	Emotions []types.EmotionKeyframe
	Body     []types.BodyKeyframe

	// AudioURL is empty when speech synthesis was skipped or failed.
	AudioURL string

	// Duration is the playback length the client is expected to spend
	// speaking; estimated from the text when there is no audio.
	Duration time.Duration

	Template string
	Style    string
}

// Session is one connected client.
type Session struct {
	id      string
	cfg     Config
	runner  Runner
	emitter Emitter
	voice   *Voice
	metrics *observe.Metrics
	now     func() time.Time

	// mu is the processing lock. It guards every field below up to state.
	mu         sync.Mutex
	messages   []types.Message
	character  character.State
	errorCount int
	recent     *classify.Recent
	murmurs    *MurmurRing
	startedAt  time.Time

	// state guards the scheduling fields, which the idle loop reads
	// without holding the processing lock.
	state        sync.Mutex
	speaking     bool
	lastActivity time.Time
	lastMurmur   time.Time
	lastReset    time.Time
	resetTimer   *time.Timer
	resetGen     uint64
	closed       bool
	cancelIdle   context.CancelFunc
	idleDone     chan struct{}
}

// Option configures a [Session].
type Option func(*Session)

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithVoice enables speech synthesis for replies.
func WithVoice(v *Voice) Option {
	return func(s *Session) { s.voice = v }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithCharacter sets the initial character state.
func WithCharacter(c character.State) Option {
	return func(s *Session) { s.character = c.Clone() }
}

// New creates a session. Call [Session.Start] to run the idle loop and
// [Session.Close] when the client goes away.
func New(runner Runner, emitter Emitter, cfg Config, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		runner:    runner,
		emitter:   emitter,
		metrics:   observe.DefaultMetrics(),
		now:       time.Now,
		character: character.Default(),
		recent:    classify.NewRecent(classify.DefaultRecentSize),
		murmurs:   NewMurmurRing(cfg.MurmurRingSize, cfg.MurmurSimilarity),
	}
	for _, o := range opts {
		o(s)
	}
	now := s.now()
	s.startedAt = now
	s.lastActivity = now
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// HandleMessage runs a user turn and emits the reply. The message counts as
// activity from the moment it arrives, so a murmur still waiting for the
// processing lock backs off.
func (s *Session) HandleMessage(ctx context.Context, text string) (Reply, error) {
	s.touch(s.now())
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return Reply{}, ErrClosed
	}
	now := s.now()
	s.touch(now)

	ctx = observe.WithSessionID(ctx, s.id)
	log := observe.Logger(ctx)
	s.character = s.character.AdvanceDays(s.startedAt, now)
	out := s.runner.Run(ctx, dialogue.State{
		TurnID:     s.id + "-" + strconv.FormatInt(now.UnixNano(), 36),
		RawInput:   text,
		Recent:     s.recent,
		Messages:   s.messages,
		Character:  s.character,
		ErrorCount: s.errorCount,
	})
	s.adopt(out)
	log.Info("turn complete", "template", out.Template, "style", out.Style,
		"tool", out.Intent.Tool, "alert", out.SystemAlert, "stored", out.Stored.Conversation)

	reply := s.reply(ctx, "bot-", out)
	s.startSpeaking(reply.Duration)
	if err := s.emitter.Emit(ctx, reply); err != nil {
		return reply, fmt.Errorf("session: emit reply: %w", err)
	}
	return reply, nil
}

// SpeechEnded lets the client report that playback finished early. The
// speaking flag is cleared as if the reset timer had fired.
func (s *Session) SpeechEnded() {
	s.state.Lock()
	gen := s.resetGen
	s.state.Unlock()
	s.resetSpeaking(gen)
}

// Messages returns a copy of the conversation history.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.messages...)
}

// Character returns the current character state.
func (s *Session) Character() character.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.character.Clone()
}

// Speaking reports whether the client is expected to be playing a reply.
func (s *Session) Speaking() bool {
	s.state.Lock()
	defer s.state.Unlock()
	return s.speaking
}

// LastActivity returns when the latest user message arrived.
func (s *Session) LastActivity() time.Time {
	s.state.Lock()
	defer s.state.Unlock()
	return s.lastActivity
}

// adopt takes the conversation-relevant fields from a finished turn. Must be
// called with mu held.
func (s *Session) adopt(out dialogue.State) {
	s.messages = dialogue.Conversation(out.Messages)
	if over := len(s.messages) - s.cfg.MaxHistory; over > 0 {
		s.messages = s.messages[over:]
	}
	s.character = out.Character
	s.errorCount = out.ErrorCount
}

func (s *Session) reply(ctx context.Context, prefix string, out dialogue.State) Reply {
	id := prefix + strconv.FormatInt(s.now().UnixMilli(), 10)
	r := Reply{
		ID:       id,
		Content:  out.Response,
		IsMurmur: out.Murmur,
		Emotions: out.Emotions,
		Body:     out.Body,
		Template: string(out.Template),
		Style:    string(out.Style),
	}
	r.AudioURL, r.Duration = s.voice.Render(ctx, id, r.Content)
	return r
}

func (s *Session) touch(now time.Time) {
	s.state.Lock()
	s.lastActivity = now
	s.state.Unlock()
}

func (s *Session) isClosed() bool {
	s.state.Lock()
	defer s.state.Unlock()
	return s.closed
}

// startSpeaking raises the speaking flag and schedules its reset after the
// playback time plus a short buffer. A newer call supersedes a pending
// reset.
func (s *Session) startSpeaking(d time.Duration) {
	s.state.Lock()
	defer s.state.Unlock()
	s.speaking = true
	s.resetGen++
	gen := s.resetGen
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	if s.closed {
		return
	}
	s.resetTimer = time.AfterFunc(d+s.cfg.SpeechBuffer(d), func() { s.resetSpeaking(gen) })
}

// holdSpeaking raises the speaking flag with no reset scheduled, for the
// time a murmur is being generated.
func (s *Session) holdSpeaking() {
	s.state.Lock()
	defer s.state.Unlock()
	s.speaking = true
	s.resetGen++
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

// releaseSpeaking lowers the flag raised by holdSpeaking when nothing was
// said. The murmur and grace clocks keep their previous values.
func (s *Session) releaseSpeaking() {
	s.state.Lock()
	defer s.state.Unlock()
	s.speaking = false
	s.resetGen++
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

// resetSpeaking clears the speaking flag and stamps the murmur clock, unless
// a newer utterance has started since gen was issued. It is the only writer
// of lastMurmur, and it only runs after something was said.
func (s *Session) resetSpeaking(gen uint64) {
	s.state.Lock()
	defer s.state.Unlock()
	if gen != s.resetGen || !s.speaking {
		return
	}
	now := s.now()
	s.speaking = false
	s.lastMurmur = now
	s.lastReset = now
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

// Start launches the idle loop. It is a no-op after the first call or after
// Close.
func (s *Session) Start(ctx context.Context) {
	s.state.Lock()
	defer s.state.Unlock()
	if s.closed || s.cancelIdle != nil {
		return
	}
	ctx, s.cancelIdle = context.WithCancel(context.WithoutCancel(ctx))
	s.idleDone = make(chan struct{})
	go s.idleLoop(ctx, s.idleDone)
	s.metrics.ActiveSessions.Add(ctx, 1)
}

// Close stops the idle loop, waiting at most the configured grace period
// for an in-flight murmur to notice, and cancels the speaking timer.
func (s *Session) Close() error {
	s.state.Lock()
	if s.closed {
		s.state.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancelIdle, s.idleDone
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
	s.state.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	s.metrics.ActiveSessions.Add(context.Background(), -1)

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.CloseGrace):
		return fmt.Errorf("session %s: idle task still running after %s", s.id, s.cfg.CloseGrace)
	}
}
