package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "gemini", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama", "gemini", "hashing"},
	"tts":        {"openai", "elevenlabs"},
	"stt":        {"openai", "deepgram"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr            = ":8000"
	DefaultAudioDir              = "audio"
	DefaultAnimationsFile        = "animations.json"
	DefaultPersonaName           = "小星"
	DefaultDataDir               = "data"
	DefaultEmbeddingDimensions   = 1536
	DefaultVectorMemoryK         = 5
	DefaultMemoryMaxHistory      = 3
	DefaultShortTermCapacity     = 20
	DefaultConsolidationInterval = time.Hour
	DefaultConsolidationWindow   = 24 * time.Hour
	DefaultConsolidationSchedule = "@every 1h"
	DefaultToolHTTPTimeout       = 10 * time.Second
)

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env %q: %w", path, err)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in provider credentials, applies defaults and validates the
// result. An empty document yields the default configuration.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandProviders(&cfg.Providers)
	for i := range cfg.Tools.MCPServers {
		cfg.Tools.MCPServers[i].Token = os.ExpandEnv(cfg.Tools.MCPServers[i].Token)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandProviders(p *ProvidersConfig) {
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expand(&p.LLM)
	expand(&p.KeyframeLLM)
	expand(&p.Embeddings)
	expand(&p.TTS)
	expand(&p.STT)
	for _, list := range [][]ProviderEntry{p.LLMFallbacks, p.TTSFallbacks, p.STTFallbacks} {
		for i := range list {
			expand(&list[i])
		}
	}
}

// ApplyDefaults fills every zero-valued setting with its default. Explicit
// values, including out-of-range ones, are left for [Validate] to judge.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.AudioDir == "" {
		s.AudioDir = DefaultAudioDir
	}
	if s.AnimationsFile == "" {
		s.AnimationsFile = DefaultAnimationsFile
	}

	if cfg.Persona.Name == "" {
		cfg.Persona.Name = DefaultPersonaName
	}

	g := &cfg.Generation
	if g.Temperature == 0 {
		g.Temperature = 0.7
	}
	if g.TopP == 0 {
		g.TopP = 0.9
	}
	if g.TopK == 0 {
		g.TopK = 40
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = 512
	}

	m := &cfg.Memory
	if m.Backend == "" {
		m.Backend = BackendSQLite
	}
	if m.DataDir == "" {
		m.DataDir = DefaultDataDir
	}
	if m.EmbeddingDimensions == 0 {
		m.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if m.VectorMemoryK == 0 {
		m.VectorMemoryK = DefaultVectorMemoryK
	}
	if m.MemoryMaxHistory == 0 {
		m.MemoryMaxHistory = DefaultMemoryMaxHistory
	}
	if m.ShortTermCapacity == 0 {
		m.ShortTermCapacity = DefaultShortTermCapacity
	}
	if m.ConsolidationInterval == 0 {
		m.ConsolidationInterval = DefaultConsolidationInterval
	}
	if m.ConsolidationWindow == 0 {
		m.ConsolidationWindow = DefaultConsolidationWindow
	}
	if m.ConsolidationSchedule == "" {
		m.ConsolidationSchedule = DefaultConsolidationSchedule
	}

	d := &cfg.Dialogue
	if d.IdleTimeoutSeconds == 0 {
		d.IdleTimeoutSeconds = 15
	}
	if d.IdleCheckIntervalSeconds == 0 {
		d.IdleCheckIntervalSeconds = 3
	}
	if d.MurmurMinIntervalSeconds == 0 {
		d.MurmurMinIntervalSeconds = 25
	}
	if d.MurmurSimilarityThreshold == 0 {
		d.MurmurSimilarityThreshold = 0.6
	}
	if d.MurmurBufferMax == 0 {
		d.MurmurBufferMax = 0.6
	}
	if d.MaxHistoryLength == 0 {
		d.MaxHistoryLength = 20
	}
	if d.HistoryTurns == 0 {
		d.HistoryTurns = 10
	}

	if cfg.Tools.HTTPTimeout == 0 {
		cfg.Tools.HTTPTimeout = DefaultToolHTTPTimeout
	}
	for i := range cfg.Tools.MCPServers {
		srv := &cfg.Tools.MCPServers[i]
		if srv.Transport == "" {
			if srv.URL != "" {
				srv.Transport = TransportStreamableHTTP
			} else {
				srv.Transport = TransportStdio
			}
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.KeyframeLLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLMFallbacks)...)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.TTSFallbacks)...)
	errs = append(errs, validateFallbacks("stt", cfg.Providers.STTFallbacks)...)
	if len(cfg.Providers.TTSFallbacks) > 0 && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; startup will fail without a chat model")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; replies will carry no audio")
	}

	// Generation
	g := cfg.Generation
	if g.Temperature < 0 || g.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", g.Temperature))
	}
	if g.TopP < 0 || g.TopP > 1 {
		errs = append(errs, fmt.Errorf("generation.top_p %.2f is out of range [0, 1]", g.TopP))
	}
	if g.TopK < 0 {
		errs = append(errs, fmt.Errorf("generation.top_k %d must not be negative", g.TopK))
	}
	if g.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_tokens %d must not be negative", g.MaxTokens))
	}

	// Memory
	m := cfg.Memory
	if m.Backend != "" && !m.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: sqlite, postgres", m.Backend))
	}
	if m.Backend == BackendPostgres && m.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
	}
	if m.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must not be negative", m.EmbeddingDimensions))
	}
	if m.VectorMemoryK < 0 {
		errs = append(errs, fmt.Errorf("memory.vector_memory_k %d must not be negative", m.VectorMemoryK))
	}
	if m.MemoryMaxHistory < 0 {
		errs = append(errs, fmt.Errorf("memory.memory_max_history %d must not be negative", m.MemoryMaxHistory))
	}
	if m.ShortTermCapacity < 0 {
		errs = append(errs, fmt.Errorf("memory.short_term_capacity %d must not be negative", m.ShortTermCapacity))
	}
	if m.ConsolidationInterval < 0 {
		errs = append(errs, fmt.Errorf("memory.consolidation_interval %s must not be negative", m.ConsolidationInterval))
	}
	if m.ConsolidationWindow < 0 {
		errs = append(errs, fmt.Errorf("memory.consolidation_window %s must not be negative", m.ConsolidationWindow))
	}

	// Dialogue
	d := cfg.Dialogue
	for _, f := range []struct {
		key string
		val float64
	}{
		{"idle_timeout_seconds", d.IdleTimeoutSeconds},
		{"idle_check_interval_seconds", d.IdleCheckIntervalSeconds},
		{"murmur_min_interval_seconds", d.MurmurMinIntervalSeconds},
		{"murmur_buffer_max", d.MurmurBufferMax},
	} {
		if f.val < 0 {
			errs = append(errs, fmt.Errorf("dialogue.%s %.2f must not be negative", f.key, f.val))
		}
	}
	if d.MurmurSimilarityThreshold < 0 || d.MurmurSimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("dialogue.murmur_similarity_threshold %.2f is out of range [0, 1]", d.MurmurSimilarityThreshold))
	}
	if d.MaxHistoryLength < 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_history_length %d must not be negative", d.MaxHistoryLength))
	}
	if d.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("dialogue.history_turns %d must not be negative", d.HistoryTurns))
	}

	// Tools
	if cfg.Tools.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("tools.http_timeout %s must not be negative", cfg.Tools.HTTPTimeout))
	}
	namesSeen := make(map[string]int, len(cfg.Tools.MCPServers))
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp_servers[%d]", prefix, srv.Name, prev))
			}
			namesSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func validateFallbacks(kind string, list []ProviderEntry) []error {
	var errs []error
	for i, fb := range list {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}
