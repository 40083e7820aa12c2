// Package keyframe derives facial-emotion and body-animation timelines from
// a finished reply.
//
// An [Analyser] runs a second, isolated LLM pass in JSON mode and never
// trusts its output: every document goes through [Parse], is validated
// against the reflected [Output] schema, and then through [RepairEmotions]
// and [RepairBody]. The tracks it returns always satisfy the track
// invariants, whatever the model produced.
package keyframe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// Result is the outcome of one analysis.
type Result struct {
	Emotions []types.EmotionKeyframe
	Body     []types.BodyKeyframe

	// UsedDefaults is true when the model output was unusable and both
	// tracks are the defaults.
	UsedDefaults bool

	// EmotionsRepaired and BodyRepaired report which tracks needed repair.
	EmotionsRepaired bool
	BodyRepaired     bool

	// Err records why defaults or repairs were needed. It is informational;
	// the tracks are valid regardless.
	Err error
}

// Option configures an [Analyser].
type Option func(*Analyser)

// WithTemperature sets the sampling temperature of the keyframe pass.
func WithTemperature(t float64) Option {
	return func(a *Analyser) { a.temperature = t }
}

// WithMetrics records repair counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyser) { a.metrics = m }
}

// Analyser runs the keyframe pass against an LLM provider.
type Analyser struct {
	llm         llm.Provider
	catalogue   *Catalogue
	temperature float64
	metrics     *observe.Metrics
}

// NewAnalyser returns an Analyser that asks p for keyframes and checks them
// against cat.
func NewAnalyser(p llm.Provider, cat *Catalogue, opts ...Option) *Analyser {
	a := &Analyser{llm: p, catalogue: cat, temperature: 0.2}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Catalogue returns the animation catalogue the analyser validates against.
func (a *Analyser) Catalogue() *Catalogue { return a.catalogue }

// Analyse derives tracks for reply. It never fails: on any error the
// returned Result carries default tracks and the cause in Err.
func (a *Analyser) Analyse(ctx context.Context, reply string) Result {
	if strings.TrimSpace(reply) == "" {
		return a.defaults(nil)
	}

	ctx, span := observe.StartSpan(ctx, "keyframe.analyse")
	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:     a.SystemPrompt(),
		Messages:         []types.Message{{Role: types.RoleUser, Content: reply}},
		Temperature:      a.temperature,
		ResponseMIMEType: llm.MIMEJSON,
	})
	if a.metrics != nil {
		a.metrics.RecordLLM(ctx, "keyframe", time.Since(start).Seconds(), err != nil)
	}
	observe.EndSpan(span, err)
	if err != nil {
		return a.defaults(fmt.Errorf("keyframe: complete: %w", err))
	}
	return a.FromRaw(ctx, resp.Content)
}

// FromRaw parses, validates and repairs a raw model answer.
func (a *Analyser) FromRaw(ctx context.Context, raw string) Result {
	parsed, err := Parse(raw)
	if err != nil {
		return a.defaults(err)
	}
	if len(parsed.Emotions) == 0 && len(parsed.Body) == 0 {
		return a.defaults(fmt.Errorf("keyframe: document has no usable frames (%d dropped)", parsed.Dropped))
	}

	res := Result{Err: parsed.SchemaErr}
	res.Emotions, res.EmotionsRepaired = RepairEmotions(parsed.Emotions)
	res.Body, res.BodyRepaired = RepairBody(parsed.Body, a.catalogue)
	res.EmotionsRepaired = res.EmotionsRepaired || parsed.Dropped > 0

	if a.metrics != nil {
		if res.EmotionsRepaired {
			a.metrics.RecordKeyframeRepair(ctx, "emotion")
		}
		if res.BodyRepaired {
			a.metrics.RecordKeyframeRepair(ctx, "body")
		}
	}
	return res
}

func (a *Analyser) defaults(err error) Result {
	return Result{
		Emotions:     DefaultEmotions(),
		Body:         DefaultBody(a.catalogue),
		UsedDefaults: true,
		Err:          err,
	}
}

// SystemPrompt is the instruction block of the keyframe pass.
func (a *Analyser) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("你是一個虛擬角色的動畫導演。請閱讀使用者提供的角色台詞，為這段台詞設計表情與肢體動作的時間軸。\n\n")
	b.WriteString("規則：\n")
	b.WriteString("1. proportion 是 0.0 到 1.0 之間的數字，代表台詞播放進度；第一個關鍵影格必須是 0.0，最後一個必須是 1.0，且數值嚴格遞增。\n")
	b.WriteString("2. emotional_keyframes 的 tag 只能使用下列情緒標籤。\n")
	b.WriteString("3. body_animation_sequence 的 name 只能使用下列動作名稱，並且至少包含兩個不同的動作。\n")
	b.WriteString("4. 只輸出 JSON，不要加上 markdown 標記或任何說明文字。\n\n")
	b.WriteString("允許的情緒標籤：")
	b.WriteString(strings.Join(EmotionTags, ", "))
	b.WriteString("\n\n允許的動作：\n")
	for _, anim := range a.catalogue.Animations() {
		if anim.Description != "" {
			fmt.Fprintf(&b, "- %s：%s\n", anim.Name, anim.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", anim.Name)
		}
	}
	b.WriteString("\n輸出必須符合這個 JSON Schema：\n")
	b.WriteString(SchemaJSON())
	return b.String()
}
