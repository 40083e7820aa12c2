package keyframe

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm"
	llmmock "github.com/eggyy1224/space-live-project-sub000/pkg/provider/llm/mock"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

func testCatalogue() *Catalogue {
	return NewCatalogue([]Animation{
		{Name: "Idle", Description: "站立待機"},
		{Name: "Wave", Description: "揮手打招呼"},
		{Name: "Think", Description: "托腮思考"},
		{Name: "Float", Description: "在失重中漂浮"},
	})
}

func checkEmotionTrack(t *testing.T, track []types.EmotionKeyframe) {
	t.Helper()
	if len(track) < 2 {
		t.Fatalf("track too short: %v", track)
	}
	if track[0].Proportion != 0 || track[len(track)-1].Proportion != 1 {
		t.Errorf("track ends = %v / %v", track[0].Proportion, track[len(track)-1].Proportion)
	}
	for i, f := range track {
		if !IsEmotionTag(f.Tag) {
			t.Errorf("frame %d: unknown tag %q", i, f.Tag)
		}
		if i > 0 && f.Proportion <= track[i-1].Proportion {
			t.Errorf("frame %d: proportions not strictly increasing: %v", i, track)
		}
	}
}

func checkBodyTrack(t *testing.T, track []types.BodyKeyframe, cat *Catalogue) {
	t.Helper()
	if len(track) < 2 {
		t.Fatalf("track too short: %v", track)
	}
	if track[0].Proportion != 0 || track[len(track)-1].Proportion != 1 {
		t.Errorf("track ends = %v / %v", track[0].Proportion, track[len(track)-1].Proportion)
	}
	names := map[string]struct{}{}
	for i, f := range track {
		if !cat.Has(f.Name) {
			t.Errorf("frame %d: unknown animation %q", i, f.Name)
		}
		if i > 0 && f.Proportion <= track[i-1].Proportion {
			t.Errorf("frame %d: proportions not strictly increasing: %v", i, track)
		}
		names[f.Name] = struct{}{}
	}
	if len(names) < 2 {
		t.Errorf("body track has %d distinct names, want >= 2: %v", len(names), track)
	}
}

func TestRepairEmotions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []types.EmotionKeyframe
		want []types.EmotionKeyframe
	}{
		{
			name: "single mid frame",
			in:   []types.EmotionKeyframe{{Tag: "happy", Proportion: 0.4}},
			want: []types.EmotionKeyframe{{Tag: "happy", Proportion: 0}, {Tag: "happy", Proportion: 0.4}, {Tag: "happy", Proportion: 1}},
		},
		{
			name: "unknown tags, duplicates, unsorted, overshoot",
			in: []types.EmotionKeyframe{
				{Tag: "happy", Proportion: 0.7},
				{Tag: "ecstatic", Proportion: 0.2},
				{Tag: "sad", Proportion: 0.7},
				{Tag: "thinking", Proportion: 0},
				{Tag: "calm", Proportion: 1.3},
				{Tag: "angry", Proportion: -0.1},
			},
			want: []types.EmotionKeyframe{{Tag: "thinking", Proportion: 0}, {Tag: "happy", Proportion: 0.7}, {Tag: "calm", Proportion: 1}},
		},
		{
			name: "empty",
			in:   nil,
			want: DefaultEmotions(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, changed := RepairEmotions(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RepairEmotions() = %v, want %v", got, tt.want)
			}
			if !changed {
				t.Error("expected changed = true")
			}
			checkEmotionTrack(t, got)
		})
	}
}

func TestRepairBody_InsertsAlternative(t *testing.T) {
	t.Parallel()

	cat := testCatalogue()
	got, changed := RepairBody([]types.BodyKeyframe{{Name: "Idle", Proportion: 0.5}}, cat)
	if !changed {
		t.Error("expected changed = true")
	}
	checkBodyTrack(t, got, cat)

	props := make([]float64, len(got))
	for i, f := range got {
		props[i] = f.Proportion
	}
	if !reflect.DeepEqual(props, []float64{0, 0.5, 1}) {
		t.Errorf("proportions = %v, want 0/0.5/1", props)
	}
	if got[0].Name != "Idle" || got[2].Name != "Idle" || got[1].Name == "Idle" {
		t.Errorf("names = %v, want Idle around one alternative", got)
	}
}

func TestRepairBody_InsertsAtMidWhenFree(t *testing.T) {
	t.Parallel()

	cat := testCatalogue()
	got, _ := RepairBody([]types.BodyKeyframe{{Name: "Wave", Proportion: 0}, {Name: "Wave", Proportion: 0.8}}, cat)
	checkBodyTrack(t, got, cat)
	if len(got) != 4 || got[1].Proportion != 0.5 {
		t.Errorf("track = %v, want alternative inserted at 0.5", got)
	}
}

func TestRepair_Idempotent(t *testing.T) {
	t.Parallel()

	cat := testCatalogue()
	emotionInputs := [][]types.EmotionKeyframe{
		nil,
		{{Tag: "happy", Proportion: 0.4}},
		{{Tag: "sad", Proportion: 0.9}, {Tag: "happy", Proportion: 0.1}, {Tag: "nope", Proportion: 0.5}},
		{{Tag: "awe", Proportion: 0}, {Tag: "wink", Proportion: 1}},
	}
	for _, in := range emotionInputs {
		once, _ := RepairEmotions(in)
		twice, changed := RepairEmotions(once)
		if !reflect.DeepEqual(once, twice) || changed {
			t.Errorf("RepairEmotions not idempotent for %v: %v then %v", in, once, twice)
		}
	}

	bodyInputs := [][]types.BodyKeyframe{
		nil,
		{{Name: "Idle", Proportion: 0.5}},
		{{Name: "Think", Proportion: 2}, {Name: "Dance", Proportion: 0.3}},
		{{Name: "Float", Proportion: 0}, {Name: "Wave", Proportion: 1}},
	}
	for _, in := range bodyInputs {
		once, _ := RepairBody(in, cat)
		twice, changed := RepairBody(once, cat)
		if !reflect.DeepEqual(once, twice) || changed {
			t.Errorf("RepairBody not idempotent for %v: %v then %v", in, once, twice)
		}
		checkBodyTrack(t, once, cat)
	}
}

func TestDefaultBody_SingleAnimationCatalogue(t *testing.T) {
	t.Parallel()

	cat := NewCatalogue(nil)
	if got := cat.Names(); !reflect.DeepEqual(got, []string{"Idle"}) {
		t.Fatalf("fallback catalogue = %v", got)
	}
	body := DefaultBody(cat)
	want := []types.BodyKeyframe{{Name: "Idle", Proportion: 0}, {Name: "Idle", Proportion: 1}}
	if !reflect.DeepEqual(body, want) {
		t.Errorf("DefaultBody = %v, want %v", body, want)
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, raw, want string
		wantErr         bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"fenced no tag", "```\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose", "好的，這是結果：{\"a\":{\"b\":2}} 希望有幫助", `{"a":{"b":2}}`, false},
		{"none", "抱歉我無法完成", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSON) {
					t.Errorf("err = %v, want ErrNoJSON", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ExtractJSON() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestParse_DropsMalformedEntries(t *testing.T) {
	t.Parallel()

	raw := `{"emotional_keyframes":[{"tag":"happy","proportion":0.4},{"tag":"sad"},"junk",{"tag":3,"proportion":0.1}],
		"body_animation_sequence":[{"name":"Idle","proportion":0.5}]}`
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Emotions) != 1 || len(p.Body) != 1 || p.Dropped != 3 {
		t.Errorf("parsed = %+v", p)
	}
	if p.SchemaErr == nil {
		t.Error("expected schema violations for malformed entries")
	}
}

func TestSchema(t *testing.T) {
	t.Parallel()

	s := SchemaJSON()
	for _, want := range []string{"emotional_keyframes", "body_animation_sequence", "proportion"} {
		if !strings.Contains(s, want) {
			t.Errorf("schema missing %q", want)
		}
	}
	valid := map[string]any{
		"emotional_keyframes":     []any{map[string]any{"tag": "happy", "proportion": 0.0}, map[string]any{"tag": "calm", "proportion": 1.0}},
		"body_animation_sequence": []any{map[string]any{"name": "Idle", "proportion": 0.0}, map[string]any{"name": "Wave", "proportion": 1.0}},
	}
	if err := ValidateDocument(valid); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
	invalid := map[string]any{"emotional_keyframes": []any{map[string]any{"tag": "happy", "proportion": 4.0}}}
	if err := ValidateDocument(invalid); err == nil {
		t.Error("invalid document accepted")
	}
}

func TestAnalyser(t *testing.T) {
	t.Parallel()

	cat := testCatalogue()
	ctx := context.Background()

	t.Run("repairs partial output", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "```json\n" +
			`{"emotional_keyframes":[{"tag":"happy","proportion":0.4}],"body_animation_sequence":[{"name":"Idle","proportion":0.5}]}` +
			"\n```"}}
		res := NewAnalyser(p, cat).Analyse(ctx, "今天的地球好藍喔！")
		if res.UsedDefaults {
			t.Fatalf("unexpected defaults: %v", res.Err)
		}
		if !res.EmotionsRepaired || !res.BodyRepaired {
			t.Errorf("repair flags = %v/%v", res.EmotionsRepaired, res.BodyRepaired)
		}
		checkEmotionTrack(t, res.Emotions)
		checkBodyTrack(t, res.Body, cat)

		req := p.Calls()[0].Req
		if req.ResponseMIMEType != llm.MIMEJSON {
			t.Errorf("ResponseMIMEType = %q", req.ResponseMIMEType)
		}
		if !strings.Contains(req.SystemPrompt, "Float：在失重中漂浮") || !strings.Contains(req.SystemPrompt, "neutral") {
			t.Error("system prompt should list animations and tags")
		}
	})

	t.Run("llm failure uses defaults", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteErr: errors.New("quota")}
		res := NewAnalyser(p, cat).Analyse(ctx, "嗨")
		if !res.UsedDefaults || res.Err == nil {
			t.Fatalf("res = %+v", res)
		}
		if !reflect.DeepEqual(res.Emotions, DefaultEmotions()) {
			t.Errorf("emotions = %v", res.Emotions)
		}
		checkBodyTrack(t, res.Body, cat)
		if res.Body[0].Name != "Idle" {
			t.Errorf("default body should start Idle: %v", res.Body)
		}
	})

	t.Run("no frames uses defaults", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"emotional_keyframes":[],"body_animation_sequence":[]}`}}
		res := NewAnalyser(p, cat).Analyse(ctx, "嗨")
		if !res.UsedDefaults {
			t.Errorf("expected defaults, got %+v", res)
		}
	})

	t.Run("empty reply skips the llm", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{}
		res := NewAnalyser(p, cat).Analyse(ctx, "  ")
		if !res.UsedDefaults || p.CallCount() != 0 {
			t.Errorf("res = %+v, calls = %d", res, p.CallCount())
		}
	})
}

func TestParseCatalogue(t *testing.T) {
	t.Parallel()

	cat, err := ParseCatalogue([]byte(`{"Wave":{"description":"揮手","loop":false},"Idle":{"description":"待機"},"Jump":"bad"}`))
	if err != nil {
		t.Fatalf("ParseCatalogue: %v", err)
	}
	if got := cat.Names(); !reflect.DeepEqual(got, []string{"Idle", "Jump", "Wave"}) {
		t.Errorf("Names() = %v", got)
	}
	if cat.Default() != "Idle" {
		t.Errorf("Default() = %q", cat.Default())
	}
	if _, err := ParseCatalogue([]byte(`[]`)); err == nil {
		t.Error("expected error for non-object document")
	}
	if _, err := ParseCatalogue([]byte(`{}`)); err == nil {
		t.Error("expected error for empty document")
	}
}
