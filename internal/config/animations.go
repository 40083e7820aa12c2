package config

import (
	"log/slog"

	"github.com/eggyy1224/space-live-project-sub000/internal/keyframe"
)

// LoadAnimations reads the allowed-animations JSON at path. A missing or
// malformed file is logged and the catalogue falls back to the single Idle
// animation, so startup never fails on it.
func LoadAnimations(path string) *keyframe.Catalogue {
	cat, err := keyframe.LoadCatalogue(path)
	if err != nil {
		slog.Warn("animations file unusable; falling back to Idle only", "path", path, "err", err)
		return keyframe.NewCatalogue(nil)
	}
	if cat.Len() < 2 {
		slog.Warn("animations file lists fewer than two animations; body tracks will repeat one name", "path", path, "count", cat.Len())
	}
	return cat
}
