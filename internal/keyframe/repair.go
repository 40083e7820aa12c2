package keyframe

import (
	"math"
	"slices"

	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// frame is the label-agnostic view of a keyframe used by the repair pass.
type frame struct {
	label string
	at    float64
}

// normalise applies the shared track rules: drop frames whose label fails
// allowed or whose proportion is not a number or negative, clamp overshoot to
// 1.0, drop duplicate proportions (first wins), sort ascending, and make sure
// frames exist at 0.0 and 1.0. Missing ends copy the nearest frame's label, or
// fallback for an empty track. changed reports whether the output differs
// from the input.
func normalise(in []frame, allowed func(string) bool, fallback string) (out []frame, changed bool) {
	seen := make(map[float64]struct{}, len(in))
	out = make([]frame, 0, len(in)+2)
	for _, f := range in {
		if !allowed(f.label) || math.IsNaN(f.at) || f.at < 0 {
			changed = true
			continue
		}
		if f.at > 1 {
			f.at = 1
			changed = true
		}
		if f.at == 0 {
			f.at = 0 // fold -0
		}
		if _, dup := seen[f.at]; dup {
			changed = true
			continue
		}
		seen[f.at] = struct{}{}
		out = append(out, f)
	}
	if !slices.IsSortedFunc(out, cmpFrame) {
		slices.SortStableFunc(out, cmpFrame)
		changed = true
	}

	if len(out) == 0 {
		return []frame{{fallback, 0}, {fallback, 1}}, true
	}
	if out[0].at != 0 {
		out = slices.Insert(out, 0, frame{out[0].label, 0})
		changed = true
	}
	if last := out[len(out)-1]; last.at != 1 {
		out = append(out, frame{last.label, 1})
		changed = true
	}
	return out, changed
}

func cmpFrame(a, b frame) int {
	switch {
	case a.at < b.at:
		return -1
	case a.at > b.at:
		return 1
	}
	return 0
}

// RepairEmotions returns a valid emotion track built from frames: every tag
// in [EmotionTags], proportions strictly increasing from 0.0 to 1.0. The
// boolean reports whether anything had to change. RepairEmotions is
// idempotent.
func RepairEmotions(frames []types.EmotionKeyframe) ([]types.EmotionKeyframe, bool) {
	in := make([]frame, len(frames))
	for i, f := range frames {
		in[i] = frame{f.Tag, f.Proportion}
	}
	fixed, changed := normalise(in, IsEmotionTag, DefaultEmotion)
	out := make([]types.EmotionKeyframe, len(fixed))
	for i, f := range fixed {
		out[i] = types.EmotionKeyframe{Tag: f.label, Proportion: f.at}
	}
	return out, changed
}

// RepairBody returns a valid body-animation track built from frames against
// cat. On top of the emotion rules it guarantees at least two distinct names
// whenever cat offers two: it places an alternative animation at 0.5,
// relabelling an existing mid frame or inserting a new one. RepairBody is
// idempotent.
func RepairBody(frames []types.BodyKeyframe, cat *Catalogue) ([]types.BodyKeyframe, bool) {
	in := make([]frame, len(frames))
	for i, f := range frames {
		in[i] = frame{f.Name, f.Proportion}
	}
	fixed, changed := normalise(in, cat.Has, cat.Default())

	used := make(map[string]struct{}, len(fixed))
	for _, f := range fixed {
		used[f.label] = struct{}{}
	}
	if len(used) < 2 {
		if alt := cat.Alternative(used); alt != "" {
			fixed = placeAlternative(fixed, alt)
			changed = true
		}
	}

	out := make([]types.BodyKeyframe, len(fixed))
	for i, f := range fixed {
		out[i] = types.BodyKeyframe{Name: f.label, Proportion: f.at}
	}
	return out, changed
}

// placeAlternative puts alt at 0.5. Every frame in track carries the same
// label here, so relabelling or inserting keeps the track sorted and free of
// duplicates.
func placeAlternative(track []frame, alt string) []frame {
	const mid = 0.5
	for i := range track {
		if track[i].at == mid {
			track[i].label = alt
			return track
		}
	}
	i, _ := slices.BinarySearchFunc(track, mid, func(f frame, t float64) int {
		return cmpFrame(f, frame{at: t})
	})
	return slices.Insert(track, i, frame{alt, mid})
}

// DefaultEmotions returns the neutral track used when analysis fails.
func DefaultEmotions() []types.EmotionKeyframe {
	return []types.EmotionKeyframe{{Tag: DefaultEmotion, Proportion: 0}, {Tag: DefaultEmotion, Proportion: 1}}
}

// DefaultBody returns the idle track used when analysis fails, with the
// alternative animation required for two distinct names.
func DefaultBody(cat *Catalogue) []types.BodyKeyframe {
	d := cat.Default()
	out, _ := RepairBody([]types.BodyKeyframe{{Name: d, Proportion: 0}, {Name: d, Proportion: 1}}, cat)
	return out
}
