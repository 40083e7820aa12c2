package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eggyy1224/space-live-project-sub000/internal/memsys"
	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/internal/server"
	"github.com/eggyy1224/space-live-project-sub000/internal/session"
)

// ErrHubClosed is returned by [Hub.Open] after [Hub.Shutdown].
var ErrHubClosed = errors.New("app: hub is shut down")

// Hub is the process-wide registry of live sessions. Every connection gets
// its own [session.Session]; they share the dialogue pipeline, the memory
// stores and the consolidator.
//
// All methods are safe for concurrent use.
type Hub struct {
	runner       session.Runner
	cfg          session.Config
	opts         []session.Option
	consolidator *memsys.Consolidator

	mu       sync.Mutex
	sessions map[string]*session.Session
	closed   bool
}

var _ server.Sessions = (*Hub)(nil)

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithSessionOptions applies opts to every session the hub opens.
func WithSessionOptions(opts ...session.Option) HubOption {
	return func(h *Hub) { h.opts = append(h.opts, opts...) }
}

// WithConsolidator makes [Hub.Shutdown] stop c.
func WithConsolidator(c *memsys.Consolidator) HubOption {
	return func(h *Hub) { h.consolidator = c }
}

// NewHub returns a hub opening sessions that run turns through runner.
func NewHub(runner session.Runner, cfg session.Config, opts ...HubOption) *Hub {
	h := &Hub{
		runner:   runner,
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Open creates a session emitting to e, starts its idle loop and registers
// it.
func (h *Hub) Open(ctx context.Context, e session.Emitter) (*session.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	s := session.New(h.runner, e, h.cfg, h.opts...)
	h.sessions[s.ID()] = s
	s.Start(ctx)
	observe.Logger(ctx).Debug("session opened", "session_id", s.ID(), "live", len(h.sessions))
	return s, nil
}

// Release closes s and forgets it.
func (h *Hub) Release(s *session.Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
	if err := s.Close(); err != nil {
		slog.Warn("session close", "session_id", s.ID(), "err", err)
	}
}

// Get returns the live session with the given id.
func (h *Hub) Get(id string) (*session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown refuses new sessions, closes every live one concurrently and
// stops the consolidator. Each session gets its own close grace; ctx bounds
// the whole call.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	live := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	clear(h.sessions)
	h.mu.Unlock()

	errCh := make(chan error, len(live))
	var wg sync.WaitGroup
	for _, s := range live {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.Close()
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if h.consolidator != nil {
		h.consolidator.Stop()
	}
	for range len(errCh) {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("hub shut down", "sessions", len(live))
	return errors.Join(errs...)
}
