package dialogue_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/character"
	"github.com/eggyy1224/space-live-project-sub000/internal/classify"
	"github.com/eggyy1224/space-live-project-sub000/internal/dialogue"
	"github.com/eggyy1224/space-live-project-sub000/internal/graph"
	"github.com/eggyy1224/space-live-project-sub000/internal/keyframe"
	"github.com/eggyy1224/space-live-project-sub000/internal/memsys"
	"github.com/eggyy1224/space-live-project-sub000/internal/prompt"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
	memmock "github.com/eggyy1224/space-live-project-sub000/pkg/memory/mock"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	llmmock "github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm/mock"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const keyframeJSON = `{"emotional_keyframes":[{"tag":"happy","proportion":0},{"tag":"excited","proportion":1}],` +
	`"body_animation_sequence":[{"name":"Idle","proportion":0},{"name":"Wave","proportion":1}]}`

// router answers each kind of LLM call the pipeline makes. Reply calls are
// answered from replies in order; once exhausted, the last entry repeats.
type router struct {
	mu      sync.Mutex
	intent  string
	param   string
	replies []llmmock.Reply
	prompts []string
	n       int
}

func (r *router) provider() *llmmock.Provider {
	return &llmmock.Provider{CompleteFunc: r.complete}
}

func (r *router) complete(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case req.ResponseMIMEType == llm.MIMEJSON:
		return &llm.CompletionResponse{Content: keyframeJSON}, nil
	case strings.HasPrefix(req.SystemPrompt, "你是工具路由器"):
		intent := r.intent
		if intent == "" {
			intent = "none"
		}
		return &llm.CompletionResponse{Content: intent}, nil
	case strings.HasPrefix(req.SystemPrompt, "你負責從對話中抽取工具參數"):
		return &llm.CompletionResponse{Content: r.param}, nil
	}
	r.prompts = append(r.prompts, req.SystemPrompt)
	reply := llmmock.Reply{Content: "小星：**哈囉**！今天地球看起來好藍喔。"}
	if len(r.replies) > 0 {
		reply = r.replies[min(r.n, len(r.replies)-1)]
	}
	r.n++
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.CompletionResponse{Content: reply.Content}, nil
}

func (r *router) replyCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *router) lastPrompt() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.prompts) == 0 {
		return ""
	}
	return r.prompts[len(r.prompts)-1]
}

func catalogue() *keyframe.Catalogue {
	return keyframe.NewCatalogue([]keyframe.Animation{
		{Name: "Idle", Description: "站立待機"},
		{Name: "Wave", Description: "揮手打招呼"},
		{Name: "Float", Description: "在失重中漂浮"},
	})
}

type fixture struct {
	router   *router
	pipeline *dialogue.Pipeline
	conv     *memmock.Store
	persona  *memmock.Store
}

type fixtureOpts struct {
	noMemory bool
	tools    []tools.Tool
}

func newFixture(t *testing.T, r *router, o fixtureOpts) *fixture {
	t.Helper()
	p := r.provider()
	f := &fixture{router: r, conv: &memmock.Store{}, persona: &memmock.Store{}}

	deps := dialogue.Deps{
		LLM:       p,
		Keyframes: keyframe.NewAnalyser(p, catalogue()),
		Rand:      rand.New(rand.NewPCG(1, 2)),
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	if !o.noMemory {
		f.persona.QueryResult = []memory.Result{{Record: memory.Record{Text: "我是小星，在國際太空站工作。"}}}
		stores := memsys.Stores{
			Conversation: f.conv,
			Persona:      f.persona,
			Summary:      &memmock.Store{},
			ShortTerm:    memory.NewShortTerm(20),
		}
		deps.Retriever = memsys.NewRetriever(stores, memsys.WithPersonaName("小星"))
		deps.Writer = memsys.NewWriter(stores, "小星")
	}
	if len(o.tools) > 0 {
		reg := tools.NewRegistry()
		for _, tool := range o.tools {
			if err := reg.Register(tool); err != nil {
				t.Fatalf("Register: %v", err)
			}
		}
		deps.Tools = reg
		deps.Detector = tools.NewDetector(p, reg, nil)
		deps.Extractor = tools.NewExtractor(p, nil)
	}

	pl, err := dialogue.New(deps, dialogue.Config{PersonaName: "小星"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.pipeline = pl
	return f
}

func turn(input string, prev dialogue.State) dialogue.State {
	recent := prev.Recent
	if recent == nil {
		recent = classify.NewRecent(classify.DefaultRecentSize)
	}
	ch := prev.Character
	if ch.DaysInSpace == 0 {
		ch = character.Default()
	}
	return dialogue.State{
		TurnID:     "turn-" + input,
		RawInput:   input,
		Recent:     recent,
		Messages:   prev.Messages,
		Character:  ch,
		ErrorCount: prev.ErrorCount,
	}
}

func checkTracks(t *testing.T, s dialogue.State) {
	t.Helper()
	if len(s.Emotions) < 2 || s.Emotions[0].Proportion != 0 || s.Emotions[len(s.Emotions)-1].Proportion != 1 {
		t.Errorf("emotion track not anchored: %+v", s.Emotions)
	}
	if len(s.Body) < 2 || s.Body[0].Proportion != 0 || s.Body[len(s.Body)-1].Proportion != 1 {
		t.Errorf("body track not anchored: %+v", s.Body)
	}
}

func weatherTool(fn tools.Func) tools.Tool {
	if fn == nil {
		fn = func(_ context.Context, args map[string]string) (string, error) {
			return args["city"] + "今天晴天，氣溫 25 度", nil
		}
	}
	return tools.Tool{
		Name:        "get_weather",
		Description: "查詢城市天氣",
		Params:      []tools.Param{{Name: "city", Type: tools.TypeString, Description: "城市名稱", Required: true}},
		Func:        fn,
	}
}

// ── Normal turns ─────────────────────────────────────────────────────────────

func TestRun_StandardTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &router{}, fixtureOpts{})
	got := f.pipeline.Run(context.Background(), turn("你今天在太空站做了什麼？", dialogue.State{}))

	if got.Template != prompt.Standard {
		t.Errorf("template = %q, want standard", got.Template)
	}
	if got.Response != "哈囉！今天地球看起來好藍喔。" {
		t.Errorf("response = %q, want cleaned reply", got.Response)
	}
	checkTracks(t, got)
	if got.Emotions[0].Tag != "happy" {
		t.Errorf("emotions should come from the analyser: %+v", got.Emotions)
	}

	if len(got.Messages) != 2 || got.Messages[0].Role != types.RoleUser || got.Messages[1].Role != types.RoleAssistant {
		t.Fatalf("messages = %+v, want user then assistant", got.Messages)
	}
	if !got.Stored.Conversation {
		t.Error("turn should be stored")
	}
	if texts := f.conv.Texts(); len(texts) != 1 || !strings.Contains(texts[0], "input: 你今天在太空站做了什麼？") {
		t.Errorf("conversation texts = %q", texts)
	}
	if got.Character.Energy != character.Default().Energy-1 {
		t.Errorf("energy = %d, want one less than default", got.Character.Energy)
	}
	if !strings.Contains(f.router.lastPrompt(), "我是小星，在國際太空站工作。") {
		t.Error("persona memory should reach the prompt")
	}
}

func TestRun_HistoryGrowsByTwoAndIsBounded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &router{}, fixtureOpts{noMemory: true})
	var s dialogue.State
	for i := range 15 {
		before := len(s.Messages)
		s = f.pipeline.Run(context.Background(), turn(strings.Repeat("星", 3)+"第"+string(rune('A'+i))+"個問題是什麼呢", s))
		if want := min(before+2, 20); len(s.Messages) != want {
			t.Fatalf("turn %d: %d messages, want %d", i, len(s.Messages), want)
		}
	}
	if s.Messages[len(s.Messages)-1].Role != types.RoleAssistant {
		t.Error("newest message should be the reply")
	}
}

// ── Confused input ───────────────────────────────────────────────────────────

func TestRun_GibberishEscalates(t *testing.T) {
	t.Parallel()

	want := []prompt.Template{prompt.Clarification, prompt.Clarification, prompt.RandomReply}
	tests := []struct {
		name     string
		inputs   []string
		wantRing []string
	}{
		{"repeated noise", []string{"j8 dl4", "j8 dl4", "j8 dl4"}, []string{"j8 dl4", "j8 dl4", "j8 dl4"}},
		{"mixed burst", []string{"j8", "dl4", "!!!"}, []string{"!!!", "dl4", "j8"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, &router{}, fixtureOpts{})
			var s dialogue.State
			for i, in := range tt.inputs {
				s = f.pipeline.Run(context.Background(), turn(in, s))
				if s.Classification.Type != classify.Gibberish {
					t.Fatalf("turn %d (%q): type = %q", i, in, s.Classification.Type)
				}
				if s.Template != want[i] {
					t.Errorf("turn %d: template = %q, want %q", i, s.Template, want[i])
				}
				if s.Style != prompt.Clarifying {
					t.Errorf("turn %d: style = %q", i, s.Style)
				}
				if s.ErrorCount != i+1 {
					t.Errorf("turn %d: error count = %d", i, s.ErrorCount)
				}
				if s.ShouldStoreMemory || s.Stored.Conversation {
					t.Errorf("turn %d: gibberish must not be stored", i)
				}
			}
			if got := s.Recent.Items(); !slices.Equal(got, tt.wantRing) {
				t.Errorf("recent = %q, want %q", got, tt.wantRing)
			}
			if n := f.conv.CallCount("Add"); n != 0 {
				t.Errorf("conversation Add calls = %d", n)
			}

			s = f.pipeline.Run(context.Background(), turn("請告訴我太空站上怎麼睡覺？", s))
			if s.Template != prompt.Standard || s.ErrorCount != 0 {
				t.Errorf("normal turn: template %q error count %d", s.Template, s.ErrorCount)
			}
		})
	}
}

func TestRun_BlankInputAsksForClarification(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &router{}, fixtureOpts{noMemory: true})
	s := f.pipeline.Run(context.Background(), turn("你好", dialogue.State{}))
	before := len(s.Messages)

	s = f.pipeline.Run(context.Background(), turn("   ", s))
	if s.Template != prompt.Clarification {
		t.Errorf("template = %q, want clarification", s.Template)
	}
	if s.Response == "" {
		t.Error("blank input got no reply")
	}
	checkTracks(t, s)
	if len(s.Messages) != before+2 {
		t.Fatalf("messages %d -> %d, want one user and one assistant entry", before, len(s.Messages))
	}
	if u := s.Messages[before]; u.Role != types.RoleUser || u.Content != "" {
		t.Errorf("user entry = %+v, want empty user message", u)
	}
	if a := s.Messages[before+1]; a.Role != types.RoleAssistant {
		t.Errorf("last entry = %+v, want the reply", a)
	}
	if s.ShouldStoreMemory {
		t.Error("blank input must not be stored")
	}
}

// ── Tools ────────────────────────────────────────────────────────────────────

func TestRun_ToolSuccess(t *testing.T) {
	t.Parallel()

	r := &router{intent: "get_weather", param: "台北"}
	f := newFixture(t, r, fixtureOpts{tools: []tools.Tool{weatherTool(nil)}})
	got := f.pipeline.Run(context.Background(), turn("台北今天天氣怎麼樣？", dialogue.State{}))

	if got.Template != prompt.ToolResponse {
		t.Fatalf("template = %q", got.Template)
	}
	if got.ToolOutcome == nil || got.ToolOutcome.Status != tools.StatusSuccess {
		t.Fatalf("outcome = %+v", got.ToolOutcome)
	}
	if !strings.Contains(got.ToolBlock, tools.ResultHeader) || !strings.Contains(r.lastPrompt(), "台北今天晴天") {
		t.Errorf("tool result should reach the prompt; block %q", got.ToolBlock)
	}
	if len(got.Messages) != 2 {
		t.Errorf("tool message should not survive into history: %+v", got.Messages)
	}
	if got.Character.TaskSuccess != 1 || len(got.Character.TasksHistory) != 1 ||
		got.Character.TasksHistory[0].Status != character.TaskSuccess {
		t.Errorf("character = %+v", got.Character)
	}
	if !got.Stored.Conversation {
		t.Error("successful tool turn should be stored")
	}
}

func TestRun_ToolFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		param  string
		fn     tools.Func
		status tools.Status
	}{
		{"missing parameter", tools.Undetermined, nil, tools.StatusMissingParams},
		{"tool error", "台北", func(context.Context, map[string]string) (string, error) {
			return "", errors.New("upstream 503")
		}, tools.StatusException},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			called := false
			fn := tt.fn
			if fn == nil {
				fn = func(context.Context, map[string]string) (string, error) { called = true; return "", nil }
			}
			r := &router{intent: "get_weather", param: tt.param}
			f := newFixture(t, r, fixtureOpts{tools: []tools.Tool{weatherTool(fn)}})
			got := f.pipeline.Run(context.Background(), turn("幫我查一下天氣好嗎", dialogue.State{}))

			if got.ToolOutcome == nil || got.ToolOutcome.Status != tt.status {
				t.Fatalf("outcome = %+v, want %s", got.ToolOutcome, tt.status)
			}
			if got.Template != prompt.ToolErrorResponse {
				t.Errorf("template = %q", got.Template)
			}
			if called {
				t.Error("tool ran despite missing parameters")
			}
			if got.ShouldStoreMemory || f.conv.CallCount("Add") != 0 {
				t.Error("failed tool turn must not be stored")
			}
			if h := got.Character.TasksHistory; len(h) != 1 || h[0].Status != character.TaskFailed {
				t.Errorf("tasks = %+v", h)
			}
			if !strings.Contains(r.lastPrompt(), tools.FailureHeader) {
				t.Error("failure block should reach the prompt")
			}
		})
	}
}

func TestRun_ToolSkippedForConfusedInput(t *testing.T) {
	t.Parallel()

	r := &router{intent: "get_weather", param: "台北"}
	f := newFixture(t, r, fixtureOpts{tools: []tools.Tool{weatherTool(nil)}})
	got := f.pipeline.Run(context.Background(), turn("asdf", dialogue.State{}))
	if got.Intent.HasTool() || got.ToolExecuted() {
		t.Errorf("confused input should skip the tool path: %+v", got.Intent)
	}
}

// ── LLM failures ─────────────────────────────────────────────────────────────

func TestRun_LLMExhausted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		errorCount   int
		wantTemplate prompt.Template
	}{
		{"fresh session", 0, prompt.Standard},
		{"after earlier trouble", 1, prompt.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &router{replies: []llmmock.Reply{{Err: errors.New("503")}}}
			f := newFixture(t, r, fixtureOpts{})
			in := turn("太空站上的食物好吃嗎？", dialogue.State{})
			in.ErrorCount = tt.errorCount
			got := f.pipeline.Run(context.Background(), in)

			if got.SystemAlert != dialogue.AlertLLMFailed {
				t.Errorf("alert = %q", got.SystemAlert)
			}
			if !slices.Contains(dialogue.FallbackReplies, got.Response) {
				t.Errorf("response %q is not a fallback", got.Response)
			}
			if r.replyCalls() != 4 {
				t.Errorf("reply calls = %d, want 2 attempts on each of 2 passes", r.replyCalls())
			}
			if got.LLMFailures != 2 || got.ErrorCount != tt.errorCount+2 {
				t.Errorf("failures %d error count %d", got.LLMFailures, got.ErrorCount)
			}
			if got.Template != tt.wantTemplate {
				t.Errorf("template on retry pass = %q, want %q", got.Template, tt.wantTemplate)
			}
			if !slices.Equal(got.Emotions, keyframe.DefaultEmotions()) {
				t.Errorf("emotions = %+v, want defaults", got.Emotions)
			}
			if got.ShouldStoreMemory || f.conv.CallCount("Add") != 0 {
				t.Error("failed turn must not be stored")
			}
		})
	}
}

func TestRun_LLMRetrySucceeds(t *testing.T) {
	t.Parallel()

	boom := errors.New("timeout")
	r := &router{replies: []llmmock.Reply{{Err: boom}, {Err: boom}, {Content: "終於連上了！"}}}
	f := newFixture(t, r, fixtureOpts{})
	got := f.pipeline.Run(context.Background(), turn("你聽得到我嗎？我在地球上", dialogue.State{}))

	if got.Response != "終於連上了！" || got.SystemAlert != "" {
		t.Errorf("response %q alert %q", got.Response, got.SystemAlert)
	}
	if got.LLMFailures != 1 || !got.Stored.Conversation {
		t.Errorf("failures %d stored %v", got.LLMFailures, got.Stored.Conversation)
	}
}

func TestRun_RecursionLimitIsRescued(t *testing.T) {
	t.Parallel()

	// Tool path plus a retry pass needs more node visits than the limit.
	r := &router{intent: "get_weather", param: "台北", replies: []llmmock.Reply{{Err: errors.New("503")}}}
	f := newFixture(t, r, fixtureOpts{tools: []tools.Tool{weatherTool(nil)}})

	var visited []string
	got := f.pipeline.Run(context.Background(), turn("台北今天天氣怎麼樣？", dialogue.State{}),
		graph.WithStepHook(func(s graph.Step) { visited = append(visited, s.Node) }))

	if len(visited) != graph.DefaultRecursionLimit {
		t.Errorf("visited %d nodes, want %d", len(visited), graph.DefaultRecursionLimit)
	}
	if got.SystemAlert != dialogue.AlertRecursionLimit {
		t.Errorf("alert = %q", got.SystemAlert)
	}
	if got.Response == "" {
		t.Fatal("rescued turn needs a reply")
	}
	checkTracks(t, got)
	if n := len(got.Messages); n != 2 || got.Messages[n-1].Content != got.Response {
		t.Errorf("messages = %+v", got.Messages)
	}
	if f.conv.CallCount("Add") != 0 {
		t.Error("rescued turn must not be stored")
	}
}

// ── Degraded memory ──────────────────────────────────────────────────────────

func TestRun_MemoryMissing(t *testing.T) {
	t.Parallel()

	r := &router{}
	f := newFixture(t, r, fixtureOpts{noMemory: true})
	got := f.pipeline.Run(context.Background(), turn("你還記得我嗎？上次我們聊過", dialogue.State{}))

	if got.SystemAlert != dialogue.AlertMemoryMissing {
		t.Errorf("alert = %q", got.SystemAlert)
	}
	if !strings.Contains(r.lastPrompt(), memsys.NoMemorySystem) || !strings.Contains(r.lastPrompt(), memsys.DefaultPersonaFacts[0]) {
		t.Error("prompt should carry the memory fallback strings")
	}
	if got.Response == "" {
		t.Error("empty reply")
	}
}

func TestRun_MemoryRetrievalError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &router{}, fixtureOpts{})
	f.persona.QueryErr = errors.New("disk gone")
	got := f.pipeline.Run(context.Background(), turn("國際太空站有多大呢？", dialogue.State{}))

	if got.SystemAlert != dialogue.AlertMemoryRetrieval {
		t.Errorf("alert = %q", got.SystemAlert)
	}
	if got.PersonaInfo != memsys.FallbackPersona(nil) {
		t.Errorf("persona = %q, want fallback facts", got.PersonaInfo)
	}
}

// ── Murmur ───────────────────────────────────────────────────────────────────

func TestRun_Murmur(t *testing.T) {
	t.Parallel()

	r := &router{replies: []llmmock.Reply{{Content: "（輕聲自語）窗外的極光好美……"}}}
	f := newFixture(t, r, fixtureOpts{})
	prev := turn("", dialogue.State{})
	got := f.pipeline.Run(context.Background(), dialogue.State{
		TurnID:        "murmur-1",
		Murmur:        true,
		MurmurPrompt:  "（系統提示：現在沒有人說話，請自言自語一句。）",
		RecentMurmurs: []string{"今天的咖啡有點淡"},
		Recent:        prev.Recent,
		Character:     prev.Character,
	})

	if got.Template != prompt.Murmur {
		t.Errorf("template = %q", got.Template)
	}
	if got.Response != "窗外的極光好美……" {
		t.Errorf("response = %q", got.Response)
	}
	if len(got.Messages) != 1 || !got.Messages[0].IsMurmur {
		t.Errorf("messages = %+v, want one murmur reply", got.Messages)
	}
	if !strings.Contains(r.lastPrompt(), "今天的咖啡有點淡") {
		t.Error("recent murmurs should reach the prompt")
	}
	if f.conv.CallCount("Query") != 0 || f.conv.CallCount("Add") != 0 {
		t.Error("murmurs neither retrieve nor store")
	}
	if len(prev.Recent.Items()) != 0 {
		t.Error("murmur must not enter the repetition ring")
	}
}

// ── Cleaning ─────────────────────────────────────────────────────────────────

func TestCleanReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"小星：你好！", "你好！"},
		{"小星: 你好！", "你好！"},
		{"（輕聲自語）星星好亮", "星星好亮"},
		{"(whispers) (smiles) hi", "hi"},
		{"**重要**的是 `氧氣`", "重要的是 氧氣"},
		{"## 標題\n- 第一點", "標題\n第一點"},
		{"「今天好冷」", "今天好冷"},
		{"「冷」和「熱」", "「冷」和「熱」"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := dialogue.CleanReply(tt.in, "小星"); got != tt.want {
			t.Errorf("CleanReply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConversation_DropsToolMessages(t *testing.T) {
	t.Parallel()

	msgs := []types.Message{
		{Role: types.RoleUser, Content: "天氣？"},
		{Role: types.RoleTool, Name: "get_weather", Content: "晴"},
		{Role: types.RoleAssistant, Content: "晴天喔"},
		{Role: types.RoleUser, Content: ""},
		{Role: types.RoleAssistant, Content: "你想問什麼呢？"},
	}
	got := dialogue.Conversation(msgs)
	if len(got) != 4 || len(msgs) != 5 {
		t.Errorf("got %+v (input %d)", got, len(msgs))
	}
}

func TestNew_RequiresLLM(t *testing.T) {
	t.Parallel()
	if _, err := dialogue.New(dialogue.Deps{}, dialogue.Config{}); err == nil {
		t.Error("want error without an LLM")
	}
}
