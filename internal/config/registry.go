package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one provider kind's name → factory table.
type factories[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) *factories[T] {
	return &factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f *factories[T]) register(name string, fn Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = fn
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := fn(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: build %s/%q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

// Registry maps provider names to factories for the chat LLM, embeddings,
// TTS and STT kinds. A later registration under the same name replaces the
// earlier one. It is safe for concurrent use.
type Registry struct {
	llm        *factories[llm.Provider]
	embeddings *factories[embeddings.Provider]
	tts        *factories[tts.Provider]
	stt        *factories[stt.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[llm.Provider]("llm"),
		embeddings: newFactories[embeddings.Provider]("embeddings"),
		tts:        newFactories[tts.Provider]("tts"),
		stt:        newFactories[stt.Provider]("stt"),
	}
}

// RegisterLLM registers a chat model factory.
func (r *Registry) RegisterLLM(name string, fn func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, fn)
}

// RegisterEmbeddings registers an embeddings factory.
func (r *Registry) RegisterEmbeddings(name string, fn func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, fn)
}

// RegisterTTS registers a speech synthesis factory.
func (r *Registry) RegisterTTS(name string, fn func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, fn)
}

// RegisterSTT registers a speech recognition factory.
func (r *Registry) RegisterSTT(name string, fn func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, fn)
}

// CreateLLM builds the chat model named by entry.Name. It returns
// [ErrProviderNotRegistered] for unknown names; factory errors are wrapped.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateEmbeddings builds the embeddings provider named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// CreateTTS builds the speech synthesiser named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry)
}

// CreateSTT builds the speech recogniser named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry)
}

// LLMNames returns the registered chat model names, sorted.
func (r *Registry) LLMNames() []string { return r.llm.names() }

// Names returns the sorted registered names per provider kind.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		r.llm.kind:        r.llm.names(),
		r.embeddings.kind: r.embeddings.names(),
		r.tts.kind:        r.tts.names(),
		r.stt.kind:        r.stt.names(),
	}
}
