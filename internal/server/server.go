// Package server is the thin network surface of the avatar: a chat
// WebSocket at /ws, the synthesised audio directory at /audio-file/, health
// probes and Prometheus metrics.
//
// Each WebSocket connection owns one [session.Session]. Text frames become
// user turns, audio frames are transcribed first, and every reply goes back
// as a chat-message frame followed by its emotion trajectory.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eggyy1224/space-live-project-sub000/internal/health"
	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/internal/session"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
)

const (
	// DefaultReadLimit bounds one inbound frame. Audio uploads are the
	// large ones; a minute of Opus is well under a megabyte.
	DefaultReadLimit = 8 << 20

	defaultWriteTimeout = 10 * time.Second
	turnQueueSize       = 4
)

// Sessions opens and releases the session behind each connection.
// [*app.Hub] implements it.
type Sessions interface {
	Open(ctx context.Context, e session.Emitter) (*session.Session, error)
	Release(s *session.Session)
}

// Server serves the avatar endpoints.
type Server struct {
	sessions     Sessions
	stt          stt.Provider
	audioDir     string
	health       *health.Handler
	metrics      *observe.Metrics
	origins      []string
	readLimit    int64
	writeTimeout time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithSTT enables audio frames.
func WithSTT(p stt.Provider) Option {
	return func(s *Server) { s.stt = p }
}

// WithAudioDir serves dir at [session.AudioURLPrefix].
func WithAudioDir(dir string) Option {
	return func(s *Server) { s.audioDir = dir }
}

// WithHealth registers /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOrigins restricts the chat socket and audio files to the given origin
// patterns (host globs as accepted by websocket.AcceptOptions). An empty
// list accepts any origin.
func WithOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithReadLimit overrides [DefaultReadLimit].
func WithReadLimit(n int64) Option {
	return func(s *Server) { s.readLimit = n }
}

// New creates a server opening sessions through sessions.
func New(sessions Sessions, opts ...Option) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("server: sessions is nil")
	}
	s := &Server{
		sessions:     sessions,
		metrics:      observe.DefaultMetrics(),
		readLimit:    DefaultReadLimit,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	if s.audioDir != "" {
		files := http.StripPrefix(session.AudioURLPrefix, http.FileServer(http.Dir(s.audioDir)))
		mux.Handle("GET "+session.AudioURLPrefix, s.cors(noListing(files)))
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics, session.AudioURLPrefix)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts the HTTP
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// cors adds Access-Control-Allow-Origin for allowed browser origins so the
// renderer can fetch audio from another port.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(s.origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && s.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	host := origin
	if _, rest, ok := strings.Cut(origin, "://"); ok {
		host = rest
	}
	for _, p := range s.origins {
		if ok, _ := path.Match(strings.ToLower(p), strings.ToLower(host)); ok {
			return true
		}
	}
	return false
}

// noListing hides directory indexes.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
