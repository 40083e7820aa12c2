// Command spacelive serves the conversational brain of the space influencer
// avatar: a chat WebSocket, synthesised reply audio and health/metrics
// endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/eggyy1224/space-live-project-sub000/internal/app"
	"github.com/eggyy1224/space-live-project-sub000/internal/config"
	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/internal/resilience"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
	geminiembed "github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings/gemini"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings/hashing"
	ollamaembed "github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings/ollama"
	oaembed "github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings/openai"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm/anyllm"
	geminillm "github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm/gemini"
	oallm "github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm/openai"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt/deepgram"
	oastt "github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt/openai"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts/elevenlabs"
	oatts "github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "dotenv file loaded before the config (missing is fine)")
	listen := flag.String("listen", "", "override server.listen_addr")
	flag.Parse()

	if err := config.LoadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "spacelive: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "spacelive: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "spacelive: %v\n", err)
		}
		return 1
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("spacelive starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"memory_backend", cfg.Memory.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		return geminillm.New(ctx, entry.APIKey, entry.Model)
	})

	// The remaining chat backends go through any-llm with an optional API key
	// and base URL.
	for _, providerName := range []string{"anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────
	dims := cfg.Memory.EmbeddingDimensions

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []oaembed.Option{oaembed.WithDimensions(dims)}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model, ollamaembed.WithDimensions(dims))
	})

	reg.RegisterEmbeddings("gemini", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return geminiembed.New(ctx, entry.APIKey, entry.Model, dims)
	})

	reg.RegisterEmbeddings("hashing", func(config.ProviderEntry) (embeddings.Provider, error) {
		return hashing.New(dims), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		return oatts.New(entry.APIKey, entry.Model, entry.OptionString("voice", ""), entry.BaseURL)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.OptionString("output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.OptionString("voice_id", ""), opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		return oastt.New(entry.APIKey, entry.Model, entry.OptionString("language", ""), entry.BaseURL)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// buildProviders instantiates every provider named in cfg. The chat model
// and the speech stages are wrapped in failover groups when fallbacks are
// configured.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)
	ps.LLM = primary

	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		if err := addFallbacks("llm", cfg.Providers.LLMFallbacks, reg.CreateLLM, group.AddFallback); err != nil {
			return nil, err
		}
		ps.LLM = group
	}

	if name := cfg.Providers.KeyframeLLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.KeyframeLLM)
		if err != nil {
			return nil, fmt.Errorf("create keyframe llm provider %q: %w", name, err)
		}
		ps.KeyframeLLM = p
		slog.Info("provider created", "kind", "keyframe_llm", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "tts", "name", name)
		ps.TTS = p
		if len(cfg.Providers.TTSFallbacks) > 0 {
			group := resilience.NewTTSFallback(p, name, resilience.FallbackConfig{})
			if err := addFallbacks("tts", cfg.Providers.TTSFallbacks, reg.CreateTTS, group.AddFallback); err != nil {
				return nil, err
			}
			ps.TTS = group
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "stt", "name", name)
		ps.STT = p
		if len(cfg.Providers.STTFallbacks) > 0 {
			group := resilience.NewSTTFallback(p, name, resilience.FallbackConfig{})
			if err := addFallbacks("stt", cfg.Providers.STTFallbacks, reg.CreateSTT, group.AddFallback); err != nil {
				return nil, err
			}
			ps.STT = group
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        spacelive: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Keyframes", cfg.Providers.KeyframeLLM.Name, cfg.Providers.KeyframeLLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	fmt.Printf("║  Persona         : %-19s ║\n", cfg.Persona.Name)
	fmt.Printf("║  Memory backend  : %-19s ║\n", cfg.Memory.Backend)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.Tools.MCPServers))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// addFallbacks builds each entry with create and hands it to add in order.
func addFallbacks[T any](kind string, entries []config.ProviderEntry, create func(config.ProviderEntry) (T, error), add func(string, T)) error {
	for _, entry := range entries {
		p, err := create(entry)
		if err != nil {
			return fmt.Errorf("create %s fallback %q: %w", kind, entry.Name, err)
		}
		add(entry.Name, p)
		slog.Info("provider created", "kind", kind+"_fallback", "name", entry.Name)
	}
	return nil
}
