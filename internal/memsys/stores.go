// Package memsys is the layered memory system of the dialogue pipeline: the
// retriever that assembles context for a turn, the writer that persists
// turns, persona seeding, and the periodic consolidator that folds old
// conversation records into summaries.
//
// It depends only on the [memory.Store] capability, so any backend
// (sqlite, postgres, the in-memory short-term ring or a test mock) can serve
// any layer.
package memsys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
)

// Stores groups the four memory layers.
type Stores struct {
	Conversation memory.Store
	Persona      memory.Store
	Summary      memory.Store
	ShortTerm    *memory.ShortTerm
}

// Validate reports a missing vector layer.
func (s Stores) Validate() error {
	var errs []error
	if s.Conversation == nil {
		errs = append(errs, errors.New("memsys: conversation store is nil"))
	}
	if s.Persona == nil {
		errs = append(errs, errors.New("memsys: persona store is nil"))
	}
	if s.Summary == nil {
		errs = append(errs, errors.New("memsys: summary store is nil"))
	}
	return errors.Join(errs...)
}

// Ping checks that every vector layer answers IsEmpty.
func (s Stores) Ping(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}
	var errs []error
	for name, st := range map[string]memory.Store{
		memory.CollectionConversation: s.Conversation,
		memory.CollectionPersona:      s.Persona,
		memory.CollectionSummary:      s.Summary,
	} {
		if _, err := st.IsEmpty(ctx); err != nil {
			errs = append(errs, fmt.Errorf("memsys: %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// DefaultPersonaFacts are the canonical identity facts seeded into an empty
// persona store.
var DefaultPersonaFacts = []string{
	"我是小星，一位在國際太空站上生活與工作的太空網紅，每天透過直播和地球上的大家聊天。",
	"我從小就夢想成為太空人，在地球上主修天文物理，後來通過重重訓練來到太空站。",
	"我在太空站上負責科學實驗和站務維護，最喜歡的地方是可以看見整顆地球的觀景窗。",
	"我個性開朗、好奇心旺盛，喜歡用簡單的比喻把太空知識分享給大家。",
	"我很想念地球上的家人和熱騰騰的食物，偶爾會因為長時間待在太空而感到疲倦或孤單。",
}

// SeedPersona writes facts into store with core-identity metadata when, and
// only when, the store is empty. It reports whether anything was written.
// Calling it again on a seeded store is a no-op.
func SeedPersona(ctx context.Context, store memory.Store, facts []string) (bool, error) {
	if len(facts) == 0 {
		facts = DefaultPersonaFacts
	}
	empty, err := store.IsEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("memsys: seed persona: %w", err)
	}
	if !empty {
		return false, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	metas := make([]memory.Metadata, len(facts))
	for i := range facts {
		metas[i] = memory.Metadata{
			memory.MetaType:       memory.TypeCoreIdentity,
			memory.MetaPersistent: true,
			memory.MetaTimestamp:  now,
		}
	}
	if _, err := store.Add(ctx, facts, metas); err != nil {
		return false, fmt.Errorf("memsys: seed persona: %w", err)
	}
	observe.Logger(ctx).Info("persona memory seeded", "facts", len(facts))
	return true, nil
}
