// Package wikipedia provides the search_wikipedia tool: a Chinese Wikipedia
// title lookup followed by the page summary.
package wikipedia

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/eggyy1224/space-live-project-sub000/internal/resilience"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
)

// Name is the registered tool name.
const Name = "search_wikipedia"

// DefaultBaseURL is the zh.wikipedia origin.
const DefaultBaseURL = "https://zh.wikipedia.org"

// ErrNoArticle is returned when the search finds no matching page.
var ErrNoArticle = errors.New("wikipedia: no matching article")

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides the wiki origin.
func WithBaseURL(u string) Option { return func(c *Client) { c.base = strings.TrimRight(u, "/") } }

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// Client queries one Wikipedia instance.
type Client struct {
	base    string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// New returns a client for the Chinese Wikipedia.
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
		Description: "在維基百科搜尋人物、地點、科學概念等條目並回傳摘要。適合「X 是誰」「X 是什麼」類的問題。",
		Params: []tools.Param{
			{Name: "query", Type: tools.TypeString, Description: "要查詢的條目名稱或關鍵詞", Required: true},
		},
		Func: func(ctx context.Context, args map[string]string) (string, error) {
			return c.Search(ctx, args["query"])
		},
	}
}

type summary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
}

// Search resolves query to the best-matching title and returns its summary.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("wikipedia: empty query: %w", tools.ErrMissingParams)
	}

	title, err := c.resolve(ctx, query)
	if err != nil {
		return "", err
	}

	var s summary
	err = tools.GetJSON(ctx, c.http, c.breaker, c.base+"/api/rest_v1/page/summary/"+url.PathEscape(title), &s)
	var status *tools.HTTPStatusError
	if errors.As(err, &status) && status.Status == http.StatusNotFound {
		return "", fmt.Errorf("%w: %q", ErrNoArticle, query)
	}
	if err != nil {
		return "", fmt.Errorf("wikipedia: summary %q: %w", title, err)
	}
	if strings.TrimSpace(s.Extract) == "" {
		return "", fmt.Errorf("%w: %q has no summary", ErrNoArticle, title)
	}
	if s.Title == "" {
		s.Title = title
	}
	return fmt.Sprintf("條目：%s\n摘要：%s", s.Title, strings.TrimSpace(s.Extract)), nil
}

// resolve runs an opensearch and returns the first title.
func (c *Client) resolve(ctx context.Context, query string) (string, error) {
	q := url.Values{
		"action":    {"opensearch"},
		"search":    {query},
		"limit":     {"1"},
		"namespace": {"0"},
		"format":    {"json"},
	}
	// [query, [titles], [descriptions], [urls]]
	var raw []any
	if err := tools.GetJSON(ctx, c.http, c.breaker, c.base+"/w/api.php?"+q.Encode(), &raw); err != nil {
		return "", fmt.Errorf("wikipedia: search %q: %w", query, err)
	}
	if len(raw) >= 2 {
		if titles, ok := raw[1].([]any); ok && len(titles) > 0 {
			if t, ok := titles[0].(string); ok && t != "" {
				return t, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoArticle, query)
}
