package session

import (
	"context"
	"strconv"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/dialogue"
	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
)

// Murmur outcomes recorded on the murmur counter.
const (
	MurmurEmitted   = "emitted"
	MurmurDuplicate = "duplicate"
	MurmurFailed    = "failed"
	MurmurSkipped   = "skipped"
)

func (s *Session) idleLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TryMurmur(ctx)
		}
	}
}

// murmurDue checks the four firing conditions at now.
func (s *Session) murmurDue(now time.Time) bool {
	s.state.Lock()
	defer s.state.Unlock()
	switch {
	case s.closed, s.speaking:
		return false
	case now.Sub(s.lastActivity) <= s.cfg.IdleTimeout:
		return false
	case !s.lastMurmur.IsZero() && now.Sub(s.lastMurmur) <= s.cfg.MurmurMinInterval:
		return false
	case !s.lastReset.IsZero() && now.Sub(s.lastReset) < s.cfg.SpeakingGrace:
		return false
	}
	return true
}

// TryMurmur fires one idle monologue if the session has been quiet long
// enough and no turn holds the processing lock. It reports whether a murmur
// was emitted. The idle loop calls it on every tick.
func (s *Session) TryMurmur(ctx context.Context) bool {
	if !s.murmurDue(s.now()) {
		return false
	}
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()

	// A user turn may have completed between the check and the lock.
	now := s.now()
	if !s.murmurDue(now) {
		s.metrics.RecordMurmur(ctx, MurmurSkipped)
		return false
	}

	s.state.Lock()
	idle := now.Sub(s.lastActivity)
	s.state.Unlock()
	s.holdSpeaking()

	ctx = observe.WithSessionID(ctx, s.id)
	log := observe.Logger(ctx)
	out := s.runner.Run(ctx, dialogue.State{
		TurnID:        s.id + "-murmur-" + strconv.FormatInt(now.UnixNano(), 36),
		Murmur:        true,
		MurmurPrompt:  MurmurPrompt(idle, s.character),
		RecentMurmurs: s.murmurs.Latest(s.cfg.MurmurContext),
		Recent:        s.recent,
		Messages:      s.messages,
		Character:     s.character,
		ErrorCount:    s.errorCount,
	})
	out.Response = dialogue.StripNarration(out.Response)

	outcome := MurmurEmitted
	switch {
	case ctx.Err() != nil || out.SystemAlert == dialogue.AlertLLMFailed || out.SystemAlert == dialogue.AlertRecursionLimit:
		outcome = MurmurFailed
	case s.murmurs.IsRepeat(out.Response):
		outcome = MurmurDuplicate
	}
	s.metrics.RecordMurmur(ctx, outcome)
	if outcome != MurmurEmitted {
		log.Debug("murmur dropped", "outcome", outcome, "text", out.Response)
		s.releaseSpeaking()
		return false
	}

	s.murmurs.Push(out.Response)
	s.adopt(out)
	reply := s.reply(ctx, "bot-murmur-", out)
	s.startSpeaking(reply.Duration)
	if err := s.emitter.Emit(ctx, reply); err != nil {
		log.Warn("murmur emit failed", "err", err)
	}
	log.Info("murmur emitted", "idle_seconds", int(idle.Seconds()))
	return true
}
