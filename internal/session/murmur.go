package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/character"
	"github.com/eggyy1224/space-live-project-sub000/internal/classify"
)

// MurmurRing remembers the latest murmurs, newest first, and rejects
// candidates that repeat one of them.
type MurmurRing struct {
	mu        sync.Mutex
	items     []string
	size      int
	threshold float64
}

// NewMurmurRing returns a ring holding size murmurs that treats a Jaccard
// similarity above threshold as a repeat.
func NewMurmurRing(size int, threshold float64) *MurmurRing {
	return &MurmurRing{size: max(size, 1), threshold: threshold}
}

// IsRepeat reports whether text is contained in, contains, or is too similar
// to a remembered murmur.
func (r *MurmurRing) IsRepeat(text string) bool {
	u := classify.Normalize(text)
	if u == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.items {
		if strings.Contains(m, u) || strings.Contains(u, m) {
			return true
		}
		if classify.Jaccard(u, m) > r.threshold {
			return true
		}
	}
	return false
}

// Push remembers text, dropping the oldest entry when full.
func (r *MurmurRing) Push(text string) {
	u := classify.Normalize(text)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]string{u}, r.items...)
	if len(r.items) > r.size {
		r.items = r.items[:r.size]
	}
}

// Latest returns up to n murmurs, newest first.
func (r *MurmurRing) Latest(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items[:min(n, len(r.items))]...)
}

// Len returns the number of remembered murmurs.
func (r *MurmurRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// MurmurPrompt is the system-triggered turn text for an idle monologue.
func MurmurPrompt(idle time.Duration, c character.State) string {
	return fmt.Sprintf("（系統提示：直播間已經安靜了大約 %d 秒，沒有觀眾說話。你現在的狀態：%s"+
		"請用一兩句話自然地自言自語，不要向觀眾提問，也不要加上動作描述。）",
		int(idle.Round(time.Second)/time.Second), c.Digest())
}
