package dialogue

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/graph"
	"github.com/eggyy1224/space-live-project-sub000/internal/keyframe"
	"github.com/eggyy1224/space-live-project-sub000/internal/memsys"
	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/internal/prompt"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
)

// Node names.
const (
	NodePreprocess    = "preprocess_input"
	NodeRetrieve      = "retrieve_memory"
	NodeFilter        = "filter_memory"
	NodeDetectTool    = "detect_tool_intent"
	NodeParseParams   = "parse_tool_parameters"
	NodeExecuteTool   = "execute_tool"
	NodeFormatTool    = "format_tool_result"
	NodeIntegrateTool = "integrate_tool_result"
	NodeSelectPrompt  = "select_prompt_and_style"
	NodeBuildPrompt   = "build_prompt"
	NodeCallLLM       = "call_llm"
	NodeKeyframes     = "analyze_keyframes"
	NodePostProcess   = "post_process"
	NodeStoreMemory   = "store_memory"
)

// Generation holds the sampling parameters of the reply call.
type Generation struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// Config tunes the pipeline.
type Config struct {
	PersonaName  string
	PersonaFacts []string
	Generation   Generation

	// HistoryMessages is how many messages are bound into the prompt.
	HistoryMessages int

	// MaxMessages bounds the history kept in State.Messages.
	MaxMessages int

	// LLMAttempts is the number of tries per reply call. Defaults to 2.
	LLMAttempts int

	// LLMTimeout bounds a single reply attempt. Zero means no extra bound.
	LLMTimeout time.Duration
}

// Deps are the collaborators the nodes call. Any of Retriever, Writer,
// Tools (with Detector and Extractor) and Keyframes may be nil; the pipeline
// degrades instead of failing.
type Deps struct {
	LLM       llm.Provider
	Keyframes *keyframe.Analyser
	Retriever *memsys.Retriever
	Writer    *memsys.Writer
	Tools     *tools.Registry
	Detector  *tools.Detector
	Extractor *tools.Extractor
	Metrics   *observe.Metrics

	// Rand drives style selection. Tests seed it for determinism.
	Rand *rand.Rand

	// Now stamps appended messages. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline runs turns through the compiled dialogue graph. It is safe for
// concurrent use by many sessions.
type Pipeline struct {
	deps  Deps
	cfg   Config
	graph *graph.Graph[State]

	randMu sync.Mutex
}

// New validates deps and compiles the graph.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.LLM == nil {
		return nil, errors.New("dialogue: an LLM provider is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PersonaName == "" {
		cfg.PersonaName = "小星"
	}
	if cfg.HistoryMessages <= 0 {
		cfg.HistoryMessages = prompt.DefaultHistoryMessages
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.LLMAttempts <= 0 {
		cfg.LLMAttempts = 2
	}

	p := &Pipeline{deps: deps, cfg: cfg}
	g, err := graph.New[State]().
		AddNode(NodePreprocess, p.preprocess).
		AddNode(NodeRetrieve, p.retrieve).
		AddNode(NodeFilter, p.filter).
		AddNode(NodeDetectTool, p.detectTool).
		AddNode(NodeParseParams, p.parseParams).
		AddNode(NodeExecuteTool, p.executeTool).
		AddNode(NodeFormatTool, p.formatTool).
		AddNode(NodeIntegrateTool, p.integrateTool).
		AddNode(NodeSelectPrompt, p.selectPrompt).
		AddNode(NodeBuildPrompt, p.buildPrompt).
		AddNode(NodeCallLLM, p.callLLM).
		AddNode(NodeKeyframes, p.analyseKeyframes).
		AddNode(NodePostProcess, p.postProcess).
		AddNode(NodeStoreMemory, p.storeMemory).
		SetEntry(NodePreprocess).
		AddEdge(NodePreprocess, NodeRetrieve).
		AddEdge(NodeRetrieve, NodeFilter).
		AddEdge(NodeFilter, NodeDetectTool).
		AddConditionalEdge(NodeDetectTool, routeTool, NodeParseParams, NodeSelectPrompt).
		AddEdge(NodeParseParams, NodeExecuteTool).
		AddEdge(NodeExecuteTool, NodeFormatTool).
		AddEdge(NodeFormatTool, NodeIntegrateTool).
		AddEdge(NodeIntegrateTool, NodeSelectPrompt).
		AddEdge(NodeSelectPrompt, NodeBuildPrompt).
		AddEdge(NodeBuildPrompt, NodeCallLLM).
		AddConditionalEdge(NodeCallLLM, routeRetry, NodeSelectPrompt, NodeKeyframes).
		AddEdge(NodeKeyframes, NodePostProcess).
		AddEdge(NodePostProcess, NodeStoreMemory).
		AddEdge(NodeStoreMemory, graph.End).
		Compile()
	if err != nil {
		return nil, err
	}
	p.graph = g
	return p, nil
}

func routeTool(s State) string {
	if s.Intent.HasTool() {
		return NodeParseParams
	}
	return NodeSelectPrompt
}

func routeRetry(s State) string {
	if s.SystemAlert == AlertLLMFailed && s.LLMFailures == 1 {
		return NodeSelectPrompt
	}
	return NodeKeyframes
}

// Run executes one turn. It never fails: if the graph aborts, the returned
// state carries a canned reply and default keyframes.
func (p *Pipeline) Run(ctx context.Context, in State, opts ...graph.RunOption) State {
	ctx, span := observe.StartSpan(ctx, "dialogue.turn")
	start := time.Now()

	out, err := p.graph.Run(ctx, in, opts...)
	if err != nil {
		observe.Logger(ctx).Error("dialogue graph aborted", "turn_id", in.TurnID, "err", err)
		out = p.rescue(ctx, out, err)
	}

	p.deps.Metrics.RecordTurn(ctx, time.Since(start).Seconds(), string(out.Template), out.Murmur)
	observe.EndSpan(span, err)
	return out
}

// rescue turns an aborted run into a valid reply. The turn is never stored.
func (p *Pipeline) rescue(ctx context.Context, s State, err error) State {
	if errors.Is(err, graph.ErrRecursionLimit) {
		s.SystemAlert = AlertRecursionLimit
	}
	s.ShouldStoreMemory = false
	if s.Response == "" {
		s.Response = fallbackReply(s.ErrorCount)
	}
	if len(s.Emotions) == 0 || len(s.Body) == 0 {
		s.Emotions = keyframe.DefaultEmotions()
		s.Body = keyframe.DefaultBody(p.catalogue())
	}
	if !s.replied() {
		s, _ = p.postProcess(ctx, s)
	}
	return s
}

func (p *Pipeline) catalogue() *keyframe.Catalogue {
	if p.deps.Keyframes != nil {
		return p.deps.Keyframes.Catalogue()
	}
	return keyframe.NewCatalogue(nil)
}
