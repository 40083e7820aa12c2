package memsys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// Retrieval defaults.
const (
	DefaultConversationK  = 5
	DefaultPersonaK       = 3
	DefaultSummaryK       = 2
	DefaultQueryHistory   = 3
	maxKeywords           = 5
	minKeywordRunes       = 2
	defaultRetrievalLimit = 8 * time.Second
)

// Retrieved is the raw output of one retrieval round.
type Retrieved struct {
	Conversation []memory.Result
	Persona      []memory.Result
	Summary      []memory.Result

	// FromShortTerm is true when the conversation layer failed and the
	// short-term ring was used instead.
	FromShortTerm bool
}

// RetrieverOption configures a [Retriever].
type RetrieverOption func(*Retriever)

// WithConversationK sets how many conversation records MMR returns.
func WithConversationK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.conversationK = k
		}
	}
}

// WithQueryHistory sets how many recent messages feed the enhanced query.
func WithQueryHistory(n int) RetrieverOption {
	return func(r *Retriever) {
		if n >= 0 {
			r.queryHistory = n
		}
	}
}

// WithRetrieverMetrics overrides the metrics sink.
func WithRetrieverMetrics(m *observe.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// WithPersonaName sets the speaker label used for assistant messages in the
// enhanced query.
func WithPersonaName(name string) RetrieverOption {
	return func(r *Retriever) { r.persona = name }
}

// Retriever queries the conversation, persona and summary layers
// concurrently for one turn.
type Retriever struct {
	stores        Stores
	conversationK int
	queryHistory  int
	persona       string
	timeout       time.Duration
	metrics       *observe.Metrics
}

// NewRetriever returns a retriever over stores.
func NewRetriever(stores Stores, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		stores:        stores,
		conversationK: DefaultConversationK,
		queryHistory:  DefaultQueryHistory,
		persona:       "助手",
		timeout:       defaultRetrievalLimit,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// ConversationK returns the configured conversation depth, which also caps
// the filtered memory string.
func (r *Retriever) ConversationK() int { return r.conversationK }

// Retrieve runs the three layer queries concurrently and waits for all of
// them. Layers that fail are left empty and their errors are joined into the
// returned error; when the conversation layer fails the short-term ring
// stands in for it. The result is usable whether or not err is nil.
func (r *Retriever) Retrieve(ctx context.Context, input string, history []types.Message) (Retrieved, error) {
	ctx, span := observe.StartSpan(ctx, "memsys.retrieve")
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := BuildQuery(input, history, r.queryHistory, r.persona)

	var (
		out                    Retrieved
		convErr, persErr, sErr error
	)
	g, gctx := errgroup.WithContext(ctx)

	// ── conversation: MMR ────────────────────────────────────────────────────
	g.Go(func() error {
		res, err := r.stores.Conversation.Query(gctx, query, memory.MMRQuery(r.conversationK))
		if err != nil {
			convErr = fmt.Errorf("memsys: %s: %w", memory.CollectionConversation, err)
			return nil
		}
		out.Conversation = res
		return nil
	})

	// ── persona: plain top-k ─────────────────────────────────────────────────
	g.Go(func() error {
		res, err := r.stores.Persona.Query(gctx, query, memory.QueryOptions{K: DefaultPersonaK})
		if err != nil {
			persErr = fmt.Errorf("memsys: %s: %w", memory.CollectionPersona, err)
			return nil
		}
		out.Persona = res
		return nil
	})

	// ── summary: plain top-k ─────────────────────────────────────────────────
	g.Go(func() error {
		res, err := r.stores.Summary.Query(gctx, query, memory.QueryOptions{K: DefaultSummaryK})
		if err != nil {
			sErr = fmt.Errorf("memsys: %s: %w", memory.CollectionSummary, err)
			return nil
		}
		out.Summary = res
		return nil
	})

	_ = g.Wait()

	if convErr != nil && r.stores.ShortTerm != nil {
		if res, err := r.stores.ShortTerm.Query(ctx, query, memory.QueryOptions{K: r.conversationK}); err == nil {
			out.Conversation = res
			out.FromShortTerm = true
		}
	}

	err := errors.Join(convErr, persErr, sErr)
	r.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.Logger(ctx).Warn("memory retrieval degraded", "err", err, "short_term", out.FromShortTerm)
	}
	observe.EndSpan(span, err)
	return out, err
}

// BuildQuery renders the enhanced retrieval query: the last n messages of
// history tagged by speaker, the current utterance, and up to five keywords
// drawn from it.
func BuildQuery(input string, history []types.Message, n int, persona string) string {
	var b strings.Builder
	start := max(0, len(history)-n)
	for _, m := range history[start:] {
		speaker := "用戶"
		switch m.Role {
		case types.RoleAssistant:
			speaker = persona
		case types.RoleTool:
			continue
		}
		verb := "問"
		if m.Role == types.RoleAssistant {
			verb = "回答"
		}
		fmt.Fprintf(&b, "%s之前%s: %s\n", speaker, verb, m.Content)
	}
	fmt.Fprintf(&b, "當前用戶提問: %s\n", input)
	fmt.Fprintf(&b, "相關關鍵詞: %s", strings.Join(Keywords(input), " "))
	return b.String()
}

// Keywords splits input on anything that is not a letter or digit and
// returns up to five distinct segments of at least two runes.
func Keywords(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minKeywordRunes {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
