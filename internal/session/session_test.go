package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/eggyy1224/space-live-project-sub000/internal/dialogue"
	"github.com/eggyy1224/space-live-project-sub000/internal/graph"
	"github.com/eggyy1224/space-live-project-sub000/internal/keyframe"
	"github.com/eggyy1224/space-live-project-sub000/internal/session"
	ttsmock "github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts/mock"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ── helpers ──────────────────────────────────────────────────────────────────

// fakeRunner answers turns with canned replies and records every input.
type fakeRunner struct {
	mu      sync.Mutex
	replies []string
	calls   []dialogue.State

	// block, when set, is waited on inside Run; entered is closed on the
	// first call.
	block   chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (f *fakeRunner) Run(ctx context.Context, in dialogue.State, _ ...graph.RunOption) dialogue.State {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	reply := "哈囉，我是小星！"
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		f.once.Do(func() { close(entered) })
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	out := in
	out.Response = reply
	out.Template = "standard"
	out.Emotions = keyframe.DefaultEmotions()
	out.Body = []types.BodyKeyframe{{Name: "Idle", Proportion: 0}, {Name: "Wave", Proportion: 1}}
	if !in.Murmur {
		out.Messages = append(append([]types.Message(nil), in.Messages...), types.Message{Role: types.RoleUser, Content: in.RawInput})
	}
	out.Messages = append(out.Messages, types.Message{Role: types.RoleAssistant, Content: reply, IsMurmur: in.Murmur})
	return out
}

func (f *fakeRunner) Calls() []dialogue.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dialogue.State(nil), f.calls...)
}

type recorder struct {
	mu      sync.Mutex
	replies []session.Reply
	ch      chan session.Reply
}

func newRecorder() *recorder { return &recorder{ch: make(chan session.Reply, 16)} }

func (r *recorder) Emit(_ context.Context, rep session.Reply) error {
	r.mu.Lock()
	r.replies = append(r.replies, rep)
	r.mu.Unlock()
	r.ch <- rep
	return nil
}

func (r *recorder) Replies() []session.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Reply(nil), r.replies...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSession(t *testing.T, r session.Runner, e session.Emitter, cfg session.Config, opts ...session.Option) *session.Session {
	t.Helper()
	s := session.New(r, e, cfg, opts...)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── User turns ───────────────────────────────────────────────────────────────

func TestHandleMessage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tts := &ttsmock.Provider{Speech: &types.Speech{Audio: []byte("ID3mp3"), Format: "mp3", Duration: 50 * time.Millisecond}}
	voice, err := session.NewVoice(tts, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	runner := &fakeRunner{}
	s := newSession(t, runner, rec, session.Config{}, session.WithVoice(voice), session.WithID("s1"))

	reply, err := s.HandleMessage(context.Background(), "你好")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.HasPrefix(reply.ID, "bot-") || strings.HasPrefix(reply.ID, "bot-murmur-") {
		t.Errorf("id = %q", reply.ID)
	}
	if reply.AudioURL != session.AudioURLPrefix+reply.ID+".mp3" {
		t.Errorf("audio url = %q", reply.AudioURL)
	}
	if _, err := os.Stat(filepath.Join(dir, reply.ID+".mp3")); err != nil {
		t.Errorf("audio file: %v", err)
	}
	if reply.Duration != 50*time.Millisecond || len(rec.Replies()) != 1 {
		t.Errorf("duration %v, emitted %d", reply.Duration, len(rec.Replies()))
	}

	if !s.Speaking() {
		t.Error("speaking flag should be raised after a reply")
	}
	waitFor(t, "speaking reset", func() bool { return !s.Speaking() })

	if msgs := s.Messages(); len(msgs) != 2 {
		t.Errorf("messages = %+v", msgs)
	}
	if got := runner.Calls()[0]; got.RawInput != "你好" || got.Recent == nil || !strings.HasPrefix(got.TurnID, "s1-") {
		t.Errorf("runner input = %+v", got)
	}
}

func TestHandleMessage_TTSFailureStillReplies(t *testing.T) {
	t.Parallel()

	voice, err := session.NewVoice(&ttsmock.Provider{Err: errors.New("quota")}, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	s := newSession(t, &fakeRunner{}, newRecorder(), session.Config{}, session.WithVoice(voice))
	reply, err := s.HandleMessage(context.Background(), "嗨")
	if err != nil {
		t.Fatal(err)
	}
	if reply.AudioURL != "" || reply.Duration <= 0 {
		t.Errorf("reply = %+v, want no audio and an estimated duration", reply)
	}
}

func TestHandleMessage_HistoryBounded(t *testing.T) {
	t.Parallel()

	s := newSession(t, &fakeRunner{}, newRecorder(), session.Config{MaxHistory: 6})
	for range 5 {
		if _, err := s.HandleMessage(context.Background(), "再來一題"); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(s.Messages()); n != 6 {
		t.Errorf("history = %d, want 6", n)
	}
}

func TestHandleMessage_Closed(t *testing.T) {
	t.Parallel()

	s := session.New(&fakeRunner{}, newRecorder(), session.Config{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.HandleMessage(context.Background(), "在嗎"); !errors.Is(err, session.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestSpeechBuffer(t *testing.T) {
	t.Parallel()

	cfg := session.Config{SpeechBufferMax: 600 * time.Millisecond}
	tests := []struct {
		d, want time.Duration
	}{
		{0, 300 * time.Millisecond},
		{5 * time.Second, 450 * time.Millisecond},
		{20 * time.Second, 600 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.SpeechBuffer(tt.d); got != tt.want {
			t.Errorf("SpeechBuffer(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

// ── Murmurs ──────────────────────────────────────────────────────────────────

func TestTryMurmur_Conditions(t *testing.T) {
	t.Parallel()

	clk := newClock()
	rec := newRecorder()
	runner := &fakeRunner{replies: []string{"（輕聲自語）窗外的地球好藍", "今天的實驗進度不錯喔", "太空站的燈光好像在眨眼"}}
	s := newSession(t, runner, rec, session.Config{}, session.WithClock(clk.Now))
	ctx := context.Background()

	clk.Advance(10 * time.Second)
	if s.TryMurmur(ctx) {
		t.Fatal("murmur fired before the idle timeout")
	}

	clk.Advance(6 * time.Second)
	if !s.TryMurmur(ctx) {
		t.Fatal("murmur should fire after 16s idle")
	}
	got := rec.Replies()[0]
	if !got.IsMurmur || !strings.HasPrefix(got.ID, "bot-murmur-") || got.Content != "窗外的地球好藍" {
		t.Errorf("murmur reply = %+v", got)
	}
	call := runner.Calls()[0]
	if !call.Murmur || call.RawInput != "" || !strings.Contains(call.MurmurPrompt, "16 秒") {
		t.Errorf("murmur input = %+v", call)
	}

	if s.TryMurmur(ctx) {
		t.Error("murmur fired while speaking")
	}
	s.SpeechEnded()

	clk.Advance(20 * time.Second)
	if s.TryMurmur(ctx) {
		t.Error("murmur fired inside the minimum interval")
	}
	clk.Advance(6 * time.Second)
	if !s.TryMurmur(ctx) {
		t.Fatal("second murmur should fire after the interval")
	}
	if prev := runner.Calls()[1].RecentMurmurs; len(prev) != 1 || prev[0] != "窗外的地球好藍" {
		t.Errorf("recent murmurs = %q", prev)
	}

	msgs := s.Messages()
	if len(msgs) != 2 || !msgs[0].IsMurmur || !msgs[1].IsMurmur {
		t.Errorf("history = %+v", msgs)
	}
}

func TestTryMurmur_SpeakingGrace(t *testing.T) {
	t.Parallel()

	clk := newClock()
	runner := &fakeRunner{replies: []string{"第一句自言自語", "完全不同的第二句話"}}
	s := newSession(t, runner, newRecorder(),
		session.Config{MurmurMinInterval: time.Second, SpeakingGrace: 2 * time.Second},
		session.WithClock(clk.Now))
	ctx := context.Background()

	clk.Advance(16 * time.Second)
	if !s.TryMurmur(ctx) {
		t.Fatal("first murmur")
	}
	s.SpeechEnded()

	clk.Advance(1500 * time.Millisecond)
	if s.TryMurmur(ctx) {
		t.Error("murmur fired inside the post-speech grace")
	}
	clk.Advance(time.Second)
	if !s.TryMurmur(ctx) {
		t.Error("murmur should fire once the grace has passed")
	}
}

func TestTryMurmur_DuplicateDropped(t *testing.T) {
	t.Parallel()

	clk := newClock()
	rec := newRecorder()
	runner := &fakeRunner{replies: []string{"窗外的地球好藍啊", "（輕聲自語）窗外的地球好藍"}}
	s := newSession(t, runner, rec, session.Config{}, session.WithClock(clk.Now))
	ctx := context.Background()

	clk.Advance(16 * time.Second)
	if !s.TryMurmur(ctx) {
		t.Fatal("first murmur")
	}
	s.SpeechEnded()
	clk.Advance(30 * time.Second)

	if s.TryMurmur(ctx) {
		t.Error("near-duplicate murmur was emitted")
	}
	if n := len(rec.Replies()); n != 1 {
		t.Errorf("emitted %d replies, want 1", n)
	}
	if s.Speaking() {
		t.Error("dropped murmur must clear the speaking flag")
	}
	if n := len(s.Messages()); n != 1 {
		t.Errorf("history = %d, dropped murmur must not be kept", n)
	}
}

func TestTryMurmur_UserTurnHoldsLock(t *testing.T) {
	t.Parallel()

	clk := newClock()
	runner := &fakeRunner{block: make(chan struct{}), entered: make(chan struct{})}
	rec := newRecorder()
	s := newSession(t, runner, rec, session.Config{}, session.WithClock(clk.Now))

	done := make(chan error, 1)
	go func() {
		_, err := s.HandleMessage(context.Background(), "你在忙什麼")
		done <- err
	}()
	<-runner.entered

	clk.Advance(time.Minute)
	if s.TryMurmur(context.Background()) {
		t.Error("murmur ran during a user turn")
	}
	close(runner.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := len(runner.Calls()); n != 1 {
		t.Errorf("runner calls = %d, want only the user turn", n)
	}
	if s.TryMurmur(context.Background()) {
		t.Error("murmur fired right after the user turn")
	}
}

func TestTryMurmur_DroppedDuplicateKeepsInterval(t *testing.T) {
	t.Parallel()

	clk := newClock()
	rec := newRecorder()
	runner := &fakeRunner{replies: []string{"窗外的地球好藍啊", "窗外的地球好藍", "今天的太陽能板讀數很漂亮"}}
	s := newSession(t, runner, rec, session.Config{}, session.WithClock(clk.Now))
	ctx := context.Background()

	clk.Advance(16 * time.Second)
	if !s.TryMurmur(ctx) {
		t.Fatal("first murmur")
	}
	s.SpeechEnded()

	clk.Advance(30 * time.Second)
	if s.TryMurmur(ctx) {
		t.Fatal("near-duplicate murmur was emitted")
	}

	// 33s after the last emitted murmur: the dropped one must not count.
	clk.Advance(3 * time.Second)
	if !s.TryMurmur(ctx) {
		t.Error("distinct murmur held back by a dropped one")
	}
	if n := len(rec.Replies()); n != 2 {
		t.Errorf("emitted %d replies, want 2", n)
	}
}

func TestHandleMessage_WaitingTurnCountsAsActivity(t *testing.T) {
	t.Parallel()

	clk := newClock()
	runner := &fakeRunner{block: make(chan struct{}), entered: make(chan struct{})}
	s := newSession(t, runner, newRecorder(), session.Config{}, session.WithClock(clk.Now))

	first := make(chan error, 1)
	go func() {
		_, err := s.HandleMessage(context.Background(), "第一個問題")
		first <- err
	}()
	<-runner.entered

	clk.Advance(time.Minute)
	arrived := clk.Now()
	second := make(chan error, 1)
	go func() {
		_, err := s.HandleMessage(context.Background(), "第二個問題")
		second <- err
	}()
	waitFor(t, "queued message to mark activity", func() bool { return s.LastActivity().Equal(arrived) })
	if s.TryMurmur(context.Background()) {
		t.Error("murmur fired while a message was waiting")
	}

	close(runner.block)
	for _, ch := range []chan error{first, second} {
		if err := <-ch; err != nil {
			t.Fatal(err)
		}
	}
	if n := len(runner.Calls()); n != 2 {
		t.Errorf("runner calls = %d, want both user turns", n)
	}
}

func TestMurmurRing(t *testing.T) {
	t.Parallel()

	r := session.NewMurmurRing(2, 0.6)
	r.Push("今天的咖啡有點淡")
	tests := []struct {
		text string
		want bool
	}{
		{"今天的咖啡有點淡", true},
		{"咖啡有點淡", true},
		{"今天的咖啡有點淡呢，好想喝濃一點的", true},
		{"淡點有啡咖的天今", true},
		{"窗外的極光正在跳舞", false},
		{"", true},
	}
	for _, tt := range tests {
		if got := r.IsRepeat(tt.text); got != tt.want {
			t.Errorf("IsRepeat(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	r.Push("第二句")
	r.Push("第三句")
	if got := r.Latest(5); len(got) != 2 || got[0] != "第三句" {
		t.Errorf("Latest = %q", got)
	}
}

// ── Idle loop lifecycle ──────────────────────────────────────────────────────

func TestIdleLoop_FiresAndStopsOnClose(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	runner := &fakeRunner{replies: []string{"好安靜啊，來看看星星吧"}}
	s := session.New(runner, rec, session.Config{
		IdleTimeout:       20 * time.Millisecond,
		IdleCheckInterval: 5 * time.Millisecond,
		MurmurMinInterval: time.Hour,
		SpeakingGrace:     time.Millisecond,
	})
	s.Start(context.Background())
	s.Start(context.Background())

	select {
	case r := <-rec.ch:
		if !r.IsMurmur {
			t.Errorf("reply = %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("idle loop never murmured")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.TryMurmur(context.Background()) {
		t.Error("closed session murmured")
	}
}

func TestClose_CancelsInFlightMurmur(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{}), entered: make(chan struct{})}
	s := session.New(runner, newRecorder(), session.Config{
		IdleTimeout:       10 * time.Millisecond,
		IdleCheckInterval: 5 * time.Millisecond,
	})
	s.Start(context.Background())
	<-runner.entered

	start := time.Now()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if time.Since(start) > session.DefaultCloseGrace {
		t.Error("Close exceeded its grace period")
	}
}
