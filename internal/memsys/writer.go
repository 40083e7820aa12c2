package memsys

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
)

// identityKeywords mark a turn that talks about who the avatar is.
var identityKeywords = []string{
	"你是誰", "你叫", "名字", "你來自", "你的家", "你喜歡", "你討厭", "你的興趣",
	"你的工作", "你在太空站", "你幾歲", "你的家人", "你的夢想", "介紹你自己", "自我介紹",
}

// MentionsIdentity reports whether input asks about the avatar itself.
func MentionsIdentity(input string) bool {
	for _, k := range identityKeywords {
		if strings.Contains(input, k) {
			return true
		}
	}
	return false
}

// ConversationText renders a turn the way it is stored.
func ConversationText(input, output string) string {
	return "input: " + input + "\noutput: " + output
}

// WriteResult reports what [Writer.StoreTurn] did.
type WriteResult struct {
	Conversation  bool
	PersonaUpdate bool
	ShortTerm     bool

	// Duplicate is true when this exact turn was already written.
	Duplicate bool
}

// WriterOption configures a [Writer].
type WriterOption func(*Writer)

// WithWriterMetrics overrides the metrics sink.
func WithWriterMetrics(m *observe.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

// WithWriterClock injects the time source used for metadata timestamps.
func WithWriterClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// Writer persists successful turns.
type Writer struct {
	stores  Stores
	persona string
	metrics *observe.Metrics
	now     func() time.Time

	mu      sync.Mutex
	written map[string]struct{}
	order   []string
}

// recentKeys bounds the idempotency set.
const recentKeys = 64

// NewWriter returns a writer over stores. personaName labels persona-update
// records.
func NewWriter(stores Stores, personaName string, opts ...WriterOption) *Writer {
	w := &Writer{
		stores:  stores,
		persona: personaName,
		now:     time.Now,
		written: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// StoreTurn writes the turn identified by turnID to the conversation layer
// and the short-term ring, plus a persona-update record when the input is
// about the avatar. Writing the same (turnID, input, output) again is a
// no-op.
func (w *Writer) StoreTurn(ctx context.Context, turnID, input, output string) (WriteResult, error) {
	var res WriteResult
	input, output = strings.TrimSpace(input), strings.TrimSpace(output)
	if input == "" || output == "" {
		return res, nil
	}
	key := turnID + "\x00" + input + "\x00" + output
	if !w.claim(key) {
		res.Duplicate = true
		return res, nil
	}

	ctx, span := observe.StartSpan(ctx, "memsys.store_turn")
	ts := w.now().UTC().Format(time.RFC3339)
	text := ConversationText(input, output)

	if _, err := w.stores.Conversation.Add(ctx, []string{text}, []memory.Metadata{{
		memory.MetaType:      memory.TypeConversation,
		memory.MetaTimestamp: ts,
		memory.MetaSource:    turnID,
	}}); err != nil {
		w.release(key)
		err = fmt.Errorf("memsys: store turn: %w", err)
		observe.EndSpan(span, err)
		return res, err
	}
	res.Conversation = true
	w.metrics.RecordMemoryWrite(ctx, memory.CollectionConversation, 1)

	if w.stores.ShortTerm != nil {
		if _, err := w.stores.ShortTerm.Add(ctx, []string{text}, []memory.Metadata{{
			memory.MetaType:      memory.TypeShortTerm,
			memory.MetaTimestamp: ts,
		}}); err == nil {
			res.ShortTerm = true
		}
	}

	if MentionsIdentity(input) {
		ok, err := w.updatePersona(ctx, input, output, ts)
		if err != nil {
			observe.Logger(ctx).Warn("persona update failed", "err", err)
		}
		res.PersonaUpdate = ok
	}

	observe.EndSpan(span, nil)
	return res, nil
}

func (w *Writer) updatePersona(ctx context.Context, input, output, ts string) (bool, error) {
	text := fmt.Sprintf("有人問%s「%s」，%s回答：「%s」", w.persona, input, w.persona, output)
	existing, err := w.stores.Persona.GetAll(ctx, memory.ListOptions{
		Filter: memory.Metadata{memory.MetaType: memory.TypePersonaUpdate},
	})
	if err != nil {
		return false, fmt.Errorf("memsys: list persona updates: %w", err)
	}
	for _, r := range existing {
		if r.Text == text || strings.Contains(r.Text, "「"+output+"」") {
			return false, nil
		}
	}
	if _, err := w.stores.Persona.Add(ctx, []string{text}, []memory.Metadata{{
		memory.MetaType:      memory.TypePersonaUpdate,
		memory.MetaTimestamp: ts,
	}}); err != nil {
		return false, fmt.Errorf("memsys: add persona update: %w", err)
	}
	w.metrics.RecordMemoryWrite(ctx, memory.CollectionPersona, 1)
	return true, nil
}

func (w *Writer) claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.written[key]; ok {
		return false
	}
	w.written[key] = struct{}{}
	w.order = append(w.order, key)
	if len(w.order) > recentKeys {
		delete(w.written, w.order[0])
		w.order = w.order[1:]
	}
	return true
}

func (w *Writer) release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.written, key)
}
