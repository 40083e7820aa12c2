// Package spacenews provides the get_space_news tool backed by the
// Spaceflight News API.
package spacenews

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/resilience"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
)

// Name is the registered tool name.
const Name = "get_space_news"

// DefaultBaseURL is the public Spaceflight News API origin.
const DefaultBaseURL = "https://api.spaceflightnewsapi.net"

const (
	defaultCount = 3
	maxCount     = 5
	summaryRunes = 120
)

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides the API origin.
func WithBaseURL(u string) Option { return func(c *Client) { c.base = strings.TrimRight(u, "/") } }

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// Client fetches recent spaceflight articles.
type Client struct {
	base    string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// New returns a client for the public API.
func New(opts ...Option) *Client {
	c := &Client{base: DefaultBaseURL, http: http.DefaultClient, breaker: tools.NewBreaker(Name)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tool returns the registry descriptor.
func (c *Client) Tool() tools.Tool {
	return tools.Tool{
		Name:        Name,
		Description: "取得最新的太空與航太新聞標題和摘要。適合「最近有什麼太空新聞」類的問題。",
		Params: []tools.Param{
			{Name: "count", Type: tools.TypeInteger, Description: fmt.Sprintf("要幾則新聞，1 到 %d，預設 %d", maxCount, defaultCount)},
		},
		Func: func(ctx context.Context, args map[string]string) (string, error) {
			return c.Latest(ctx, tools.ParseInt(args, "count", defaultCount))
		},
	}
}

type article struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	NewsSite    string    `json:"news_site"`
	PublishedAt time.Time `json:"published_at"`
}

type page struct {
	Results []article `json:"results"`
}

// Latest returns the n most recent articles, clamped to [1, 5].
func (c *Client) Latest(ctx context.Context, n int) (string, error) {
	n = max(1, min(n, maxCount))
	q := url.Values{"limit": {strconv.Itoa(n)}, "ordering": {"-published_at"}}

	var p page
	if err := tools.GetJSON(ctx, c.http, c.breaker, c.base+"/v4/articles/?"+q.Encode(), &p); err != nil {
		return "", fmt.Errorf("spacenews: fetch: %w", err)
	}
	if len(p.Results) == 0 {
		return "目前沒有取得任何太空新聞。", nil
	}

	var b strings.Builder
	b.WriteString("最新太空新聞：\n")
	for i, a := range p.Results {
		if i == n {
			break
		}
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(a.Title))
		if a.NewsSite != "" || !a.PublishedAt.IsZero() {
			b.WriteString("（")
			b.WriteString(a.NewsSite)
			if !a.PublishedAt.IsZero() {
				if a.NewsSite != "" {
					b.WriteString("，")
				}
				b.WriteString(a.PublishedAt.UTC().Format("2006-01-02"))
			}
			b.WriteString("）")
		}
		if s := clip(strings.TrimSpace(a.Summary), summaryRunes); s != "" {
			b.WriteString("：")
			b.WriteString(s)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
