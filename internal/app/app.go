// Package app wires the avatar's subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the memory stores,
// builds the tool registry, the keyframe analyser and the dialogue pipeline;
// Run serves the chat socket and runs the consolidation schedule; Shutdown
// closes every live session and tears everything down in order.
//
// For testing, inject doubles via functional options (WithStores,
// WithCatalogue, ...). When an option is not provided, New builds real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"sync"

	"github.com/eggyy1224/space-live-project-sub000/internal/config"
	"github.com/eggyy1224/space-live-project-sub000/internal/dialogue"
	"github.com/eggyy1224/space-live-project-sub000/internal/health"
	"github.com/eggyy1224/space-live-project-sub000/internal/keyframe"
	"github.com/eggyy1224/space-live-project-sub000/internal/memsys"
	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/internal/server"
	"github.com/eggyy1224/space-live-project-sub000/internal/session"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools/iss"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools/moonphase"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools/spacenews"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools/wikipedia"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory/postgres"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory/sqlite"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings/hashing"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider

	// KeyframeLLM runs the animation pass. Nil reuses LLM.
	KeyframeLLM llm.Provider

	// Embeddings backs the vector stores. Nil selects the offline hashing
	// embedder.
	Embeddings embeddings.Provider

	TTS tts.Provider
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	http      *http.Client

	// Subsystems, initialised in New and torn down in Shutdown.
	stores       memsys.Stores
	catalogue    *keyframe.Catalogue
	registry     *tools.Registry
	mcp          *tools.MCPClient
	pipeline     *dialogue.Pipeline
	consolidator *memsys.Consolidator
	voice        *session.Voice
	hub          *Hub
	server       *server.Server

	storesInjected bool

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStores injects the memory stores instead of opening them from config.
// The stores are still wrapped in guards.
func WithStores(s memsys.Stores) Option {
	return func(a *App) {
		a.stores = s
		a.storesInjected = true
	}
}

// WithCatalogue injects the animation catalogue instead of loading the
// animations file.
func WithCatalogue(c *keyframe.Catalogue) Option {
	return func(a *App) { a.catalogue = c }
}

// WithHTTPClient sets the client used by the built-in tools.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.http = c }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go. Use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: memory stores are opened
// and the persona seeded, built-in tools registered and MCP servers
// connected, the dialogue graph compiled. No goroutines run until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.http == nil {
		a.http = &http.Client{Timeout: cfg.Tools.HTTPTimeout}
	}

	// ── 1. Memory ────────────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 3. Dialogue pipeline ─────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. Consolidation ─────────────────────────────────────────────────
	cons, err := memsys.NewConsolidator(memsys.ConsolidatorConfig{
		Stores:      a.stores,
		Summariser:  memsys.NewLLMSummariser(providers.LLM, a.metrics),
		MinInterval: cfg.Memory.ConsolidationInterval,
		Window:      cfg.Memory.ConsolidationWindow,
		Schedule:    cfg.Memory.ConsolidationSchedule,
		Metrics:     a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init consolidator: %w", err)
	}
	a.consolidator = cons

	// ── 5. Voice ─────────────────────────────────────────────────────────
	if providers.TTS != nil {
		a.voice, err = session.NewVoice(providers.TTS, cfg.Server.AudioDir, a.metrics)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init voice: %w", err)
		}
	} else {
		slog.Warn("no tts provider configured, replies are text only")
	}

	// ── 6. Sessions and transport ────────────────────────────────────────
	sessOpts := []session.Option{session.WithMetrics(a.metrics)}
	if a.voice != nil {
		sessOpts = append(sessOpts, session.WithVoice(a.voice))
	}
	a.hub = NewHub(a.pipeline, sessionConfig(cfg.Dialogue),
		WithSessionOptions(sessOpts...), WithConsolidator(a.consolidator))

	srvOpts := []server.Option{
		server.WithAudioDir(cfg.Server.AudioDir),
		server.WithHealth(a.Health()),
		server.WithMetrics(a.metrics),
		server.WithOrigins(cfg.Server.CORSOrigins...),
	}
	if providers.STT != nil {
		srvOpts = append(srvOpts, server.WithSTT(providers.STT))
	}
	a.server, err = server.New(a.hub, srvOpts...)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// initMemory opens the three vector collections, guards them and seeds the
// persona collection on first start.
func (a *App) initMemory(ctx context.Context) error {
	if !a.storesInjected {
		emb := a.providers.Embeddings
		if emb == nil {
			slog.Warn("no embeddings provider configured, using the offline hashing embedder",
				"dimensions", a.cfg.Memory.EmbeddingDimensions)
			emb = hashing.New(a.cfg.Memory.EmbeddingDimensions)
		}
		var err error
		switch a.cfg.Memory.Backend {
		case config.BackendPostgres:
			err = a.openPostgres(ctx, emb)
		default:
			err = a.openSQLite(ctx, emb)
		}
		if err != nil {
			return err
		}
	}
	if a.stores.ShortTerm == nil {
		a.stores.ShortTerm = memory.NewShortTerm(a.cfg.Memory.ShortTermCapacity)
	}
	if err := a.stores.Validate(); err != nil {
		return err
	}
	a.stores = a.stores.Guarded()

	seeded, err := memsys.SeedPersona(ctx, a.stores.Persona, a.cfg.Persona.CoreFacts)
	if err != nil {
		// The pipeline falls back to the built-in persona text.
		slog.Warn("persona seeding failed", "err", err)
	} else if seeded {
		slog.Info("persona memory seeded")
	}
	return nil
}

func (a *App) openSQLite(ctx context.Context, emb embeddings.Provider) error {
	open := func(name string) (memory.Store, error) {
		st, err := sqlite.Open(ctx, filepath.Join(a.cfg.Memory.DataDir, name), emb)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	}
	var err error
	if a.stores.Conversation, err = open(memory.CollectionConversation); err != nil {
		return err
	}
	if a.stores.Persona, err = open(memory.CollectionPersona); err != nil {
		return err
	}
	if a.stores.Summary, err = open(memory.CollectionSummary); err != nil {
		return err
	}
	slog.Info("memory opened", "backend", config.BackendSQLite, "dir", a.cfg.Memory.DataDir)
	return nil
}

func (a *App) openPostgres(ctx context.Context, emb embeddings.Provider) error {
	pg, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN, a.cfg.Memory.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { pg.Close(); return nil })

	open := func(name string) (memory.Store, error) {
		c, err := pg.Collection(ctx, name, emb)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	if a.stores.Conversation, err = open(memory.CollectionConversation); err != nil {
		return err
	}
	if a.stores.Persona, err = open(memory.CollectionPersona); err != nil {
		return err
	}
	if a.stores.Summary, err = open(memory.CollectionSummary); err != nil {
		return err
	}
	slog.Info("memory opened", "backend", config.BackendPostgres)
	return nil
}

// initTools registers the built-in tools not listed as disabled, then
// imports tools from every configured MCP server. An unreachable MCP server
// is logged and skipped.
func (a *App) initTools(ctx context.Context) error {
	a.registry = tools.NewRegistry(tools.WithRegistryMetrics(a.metrics))
	builtins := []tools.Tool{
		wikipedia.New(wikipedia.WithHTTPClient(a.http)).Tool(),
		spacenews.New(spacenews.WithHTTPClient(a.http)).Tool(),
		iss.New(iss.WithHTTPClient(a.http)).Tool(),
		moonphase.New().Tool(),
	}
	for _, t := range builtins {
		if slices.Contains(a.cfg.Tools.Disabled, t.Name) {
			slog.Info("tool disabled", "tool", t.Name)
			continue
		}
		if err := a.registry.Register(t); err != nil {
			return err
		}
	}

	if len(a.cfg.Tools.MCPServers) == 0 {
		return nil
	}
	a.mcp = tools.NewMCPClient()
	a.closers = append(a.closers, a.mcp.Close)
	for _, srv := range a.cfg.Tools.MCPServers {
		n, err := a.mcp.Connect(ctx, tools.MCPServer{
			Name:      srv.Name,
			Transport: string(srv.Transport),
			Command:   srv.Command,
			Env:       srv.Env,
			URL:       srv.URL,
			Token:     srv.Token,
		}, a.registry)
		if err != nil {
			slog.Warn("mcp server unavailable", "server", srv.Name, "err", err)
			continue
		}
		slog.Info("mcp tools imported", "server", srv.Name, "tools", n)
	}
	return nil
}

func (a *App) initPipeline() error {
	if a.catalogue == nil {
		a.catalogue = config.LoadAnimations(a.cfg.Server.AnimationsFile)
	}
	kfLLM := a.providers.KeyframeLLM
	if kfLLM == nil {
		kfLLM = a.providers.LLM
	}
	name := a.cfg.Persona.Name
	mem := a.cfg.Memory

	p, err := dialogue.New(dialogue.Deps{
		LLM:       a.providers.LLM,
		Keyframes: keyframe.NewAnalyser(kfLLM, a.catalogue, keyframe.WithMetrics(a.metrics)),
		Retriever: memsys.NewRetriever(a.stores,
			memsys.WithConversationK(mem.VectorMemoryK),
			memsys.WithQueryHistory(mem.MemoryMaxHistory),
			memsys.WithPersonaName(name),
			memsys.WithRetrieverMetrics(a.metrics)),
		Writer:    memsys.NewWriter(a.stores, name, memsys.WithWriterMetrics(a.metrics)),
		Tools:     a.registry,
		Detector:  tools.NewDetector(a.providers.LLM, a.registry, a.metrics),
		Extractor: tools.NewExtractor(a.providers.LLM, a.metrics),
		Metrics:   a.metrics,
	}, dialogue.Config{
		PersonaName:  name,
		PersonaFacts: a.cfg.Persona.CoreFacts,
		Generation: dialogue.Generation{
			Temperature: a.cfg.Generation.Temperature,
			TopP:        a.cfg.Generation.TopP,
			TopK:        a.cfg.Generation.TopK,
			MaxTokens:   a.cfg.Generation.MaxTokens,
		},
		HistoryMessages: a.cfg.Dialogue.HistoryTurns,
		MaxMessages:     a.cfg.Dialogue.MaxHistoryLength,
	})
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func sessionConfig(d config.DialogueConfig) session.Config {
	return session.Config{
		IdleTimeout:       d.IdleTimeout(),
		IdleCheckInterval: d.IdleCheckInterval(),
		MurmurMinInterval: d.MurmurMinInterval(),
		MurmurSimilarity:  d.MurmurSimilarityThreshold,
		SpeechBufferMax:   d.MurmurBufferCap(),
		MaxHistory:        d.MaxHistoryLength,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Hub returns the live-session registry.
func (a *App) Hub() *Hub { return a.hub }

// Pipeline returns the compiled dialogue pipeline.
func (a *App) Pipeline() *dialogue.Pipeline { return a.pipeline }

// Stores returns the guarded memory stores.
func (a *App) Stores() memsys.Stores { return a.stores }

// Tools returns the tool registry.
func (a *App) Tools() *tools.Registry { return a.registry }

// Handler returns the HTTP handler serving every endpoint.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Health builds the readiness checks. Every memory collection must answer
// a ping; a collection left degraded by a recent write or search failure
// only degrades readiness, since turns still run without it.
func (a *App) Health() *health.Handler {
	return health.New(
		health.Checker{Name: "memory", Check: a.stores.Ping},
		health.Checker{
			Name:     "collections",
			Optional: true,
			Check: func(context.Context) error {
				var errs []error
				for name, err := range a.stores.Degraded() {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
				return errors.Join(errs...)
			},
		},
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the consolidation schedule and serves HTTP on the configured
// address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.consolidator.Start(ctx)
	return a.server.Serve(ctx, ln)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every live session, stops the consolidator and runs the
// closers in order. If ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.hub.Len(), "closers", len(a.closers))

		if err := a.hub.Shutdown(ctx); err != nil {
			slog.Warn("hub shutdown", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
