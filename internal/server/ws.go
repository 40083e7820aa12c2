package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/internal/session"
)

// client is the write side of one chat socket. It is the session's Emitter.
type client struct {
	conn    *websocket.Conn
	timeout time.Duration

	mu sync.Mutex
}

var _ session.Emitter = (*client)(nil)

func (c *client) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: encode frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

// Emit implements [session.Emitter].
func (c *client) Emit(ctx context.Context, r session.Reply) error {
	for _, f := range replyFrames(r) {
		if err := c.send(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.origins,
		InsecureSkipVerify: len(s.origins) == 0,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cl := &client{conn: conn, timeout: s.writeTimeout}
	sess, err := s.sessions.Open(ctx, cl)
	if err != nil {
		observe.Logger(ctx).Error("open session failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	log := observe.Logger(ctx).With("session_id", sess.ID())
	log.Info("client connected", "remote", r.RemoteAddr)

	turns := make(chan func(), turnQueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for job := range turns {
			if ctx.Err() != nil {
				continue
			}
			job()
		}
	}()
	enqueue := func(job func()) {
		select {
		case turns <- job:
		default:
			_ = cl.send(ctx, errorFrame{Type: TypeError, Message: "busy"})
		}
	}

	status := s.readLoop(ctx, conn, cl, sess, enqueue, log)

	cancel()
	close(turns)
	wg.Wait()
	s.sessions.Release(sess)
	conn.Close(status, "")
	log.Info("client disconnected")
}

// readLoop dispatches inbound frames until the socket closes and returns the
// close status to answer with.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, cl *client, sess *session.Session, enqueue func(func()), log *slog.Logger) websocket.StatusCode {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return websocket.StatusNormalClosure
			}
			if ctx.Err() != nil {
				return websocket.StatusGoingAway
			}
			log.Warn("websocket read failed", "err", err)
			return websocket.StatusPolicyViolation
		}

		if typ == websocket.MessageBinary {
			enqueue(func() { s.transcribe(ctx, cl, sess, data, "", log) })
			continue
		}

		f, err := parseInbound(data)
		if err != nil {
			log.Debug("bad frame", "err", err)
			_ = cl.send(ctx, errorFrame{Type: TypeError, Message: err.Error()})
			continue
		}
		switch f.Type {
		case TypeSpeechEnded:
			sess.SpeechEnded()
		case TypeAudio:
			audio, mime, err := f.Audio()
			if err != nil {
				_ = cl.send(ctx, sttFrame{Type: TypeSTTResult, Error: err.Error()})
				continue
			}
			enqueue(func() { s.transcribe(ctx, cl, sess, audio, mime, log) })
		case TypeMurmur:
			if text := f.Text(); text != "" {
				enqueue(func() { s.turn(ctx, sess, text, log) })
				continue
			}
			enqueue(func() { sess.TryMurmur(ctx) })
		default:
			// Blank chat input still gets a clarification turn.
			text := f.Text()
			enqueue(func() { s.turn(ctx, sess, text, log) })
		}
	}
}

func (s *Server) turn(ctx context.Context, sess *session.Session, text string, log *slog.Logger) {
	if _, err := sess.HandleMessage(ctx, text); err != nil && !errors.Is(err, session.ErrClosed) && ctx.Err() == nil {
		log.Warn("turn failed", "err", err)
	}
}

// transcribe reports the recognition result to the client and, when speech
// was recognised, runs it as a user turn.
func (s *Server) transcribe(ctx context.Context, cl *client, sess *session.Session, audio []byte, mime string, log *slog.Logger) {
	if s.stt == nil {
		_ = cl.send(ctx, sttFrame{Type: TypeSTTResult, Error: "speech recognition is not configured"})
		return
	}
	start := time.Now()
	tr, err := s.stt.Transcribe(ctx, audio, mime)
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		log.Warn("transcription failed", "mime_type", mime, "bytes", len(audio), "err", err)
		_ = cl.send(ctx, sttFrame{Type: TypeSTTResult, Error: err.Error()})
		return
	}

	text := strings.TrimSpace(tr.Text)
	res := sttFrame{Type: TypeSTTResult, Success: text != "", Text: text, Confidence: tr.Confidence}
	if text == "" {
		res.Error = "no speech recognised"
	}
	if err := cl.send(ctx, res); err != nil {
		return
	}
	if text != "" {
		s.turn(ctx, sess, text, log)
	}
}
