package classify

import "sync"

// DefaultRecentSize is the number of inputs remembered by [NewRecent].
const DefaultRecentSize = 10

// Recent is the ring buffer of the last inputs with the most recent first.
// It is safe for concurrent use.
type Recent struct {
	mu    sync.Mutex
	size  int
	items []string
}

// NewRecent returns an empty buffer holding at most size entries. A
// non-positive size selects [DefaultRecentSize].
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = DefaultRecentSize
	}
	return &Recent{size: size}
}

// Push records input as the most recent entry, evicting the oldest on
// overflow. Input is normalised first.
func (r *Recent) Push(input string) {
	u := Normalize(input)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]string{u}, r.items...)
	if len(r.items) > r.size {
		r.items = r.items[:r.size]
	}
}

// Items returns a copy of the buffer, most recent first.
func (r *Recent) Items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

// MaxSimilarity returns the highest character-set Jaccard similarity between
// input and any buffered entry, or 0 for an empty buffer.
func (r *Recent) MaxSimilarity(input string) float64 {
	u := Normalize(input)
	r.mu.Lock()
	defer r.mu.Unlock()
	best := 0.0
	for _, it := range r.items {
		if s := Jaccard(u, it); s > best {
			best = s
		}
	}
	return best
}

// Jaccard returns |A∩B| / |A∪B| over the sets of runes in a and b.
// Whitespace is ignored. Two empty strings score 0.
func Jaccard(a, b string) float64 {
	sa, sb := runeSet(a), runeSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for r := range sa {
		if _, ok := sb[r]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func runeSet(s string) map[rune]struct{} {
	out := make(map[rune]struct{}, len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			continue
		}
		out[r] = struct{}{}
	}
	return out
}
