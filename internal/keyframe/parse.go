package keyframe

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// ErrNoJSON is returned when the model output contains no JSON object.
var ErrNoJSON = errors.New("keyframe: no JSON object in output")

// ExtractJSON strips markdown fences and surrounding prose from raw and
// returns the outermost JSON object.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		body := s[i+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(body[:nl]), "{") {
			body = body[nl+1:] // language tag such as "json"
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		s = body
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// Parsed is the lenient decoding of a keyframe document. Malformed entries
// are dropped individually and counted.
type Parsed struct {
	Emotions []types.EmotionKeyframe
	Body     []types.BodyKeyframe
	Dropped  int
	// SchemaErr holds schema violations found before repair, if any.
	SchemaErr error
}

// Parse decodes the keyframe document in raw. It fails only when no JSON
// object can be found or the object does not decode at all; missing or
// malformed arrays yield empty tracks for the repair pass to fill.
func Parse(raw string) (Parsed, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return Parsed{}, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return Parsed{}, fmt.Errorf("keyframe: decode: %w", err)
	}

	var p Parsed
	p.SchemaErr = ValidateDocument(doc)

	for _, item := range asList(doc["emotional_keyframes"]) {
		tag, at, ok := entry(item, "tag")
		if !ok {
			p.Dropped++
			continue
		}
		p.Emotions = append(p.Emotions, types.EmotionKeyframe{Tag: tag, Proportion: at})
	}
	for _, item := range asList(doc["body_animation_sequence"]) {
		name, at, ok := entry(item, "name")
		if !ok {
			p.Dropped++
			continue
		}
		p.Body = append(p.Body, types.BodyKeyframe{Name: name, Proportion: at})
	}
	return p, nil
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func entry(item any, labelKey string) (string, float64, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return "", 0, false
	}
	label, ok := m[labelKey].(string)
	if !ok || strings.TrimSpace(label) == "" {
		return "", 0, false
	}
	at, ok := m["proportion"].(float64)
	if !ok || math.IsNaN(at) {
		return "", 0, false
	}
	return strings.TrimSpace(label), at, true
}
