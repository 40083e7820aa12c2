// Package iss provides the get_iss_info tool: the station's current ground
// position and the people in space, from the Open Notify API.
package iss

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eggyy1224/space-live-project-sub000/internal/resilience"
	"github.com/eggyy1224/space-live-project-sub000/internal/tools"
)

// Name is the registered tool name.
const Name = "get_iss_info"

// DefaultBaseURL is the Open Notify origin.
const DefaultBaseURL = "http://api.open-notify.org"

// Query kinds accepted by the tool.
const (
	QueryPosition   = "position"
	QueryAstronauts = "astronauts"
	QueryAll        = "all"
)

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides the API origin.
func WithBaseURL(u string) Option { return func(c *Client) { c.base = strings.TrimRight(u, "/") } }

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// Client queries Open Notify.
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
		Description: "查詢國際太空站目前的經緯度位置，以及現在有哪些太空人在太空中。",
		Params: []tools.Param{
			{Name: "query_type", Type: tools.TypeString, Description: "position（位置）、astronauts（太空人）或 all（兩者），預設 all"},
		},
		Func: func(ctx context.Context, args map[string]string) (string, error) {
			return c.Info(ctx, args["query_type"])
		},
	}
}

type positionResp struct {
	Timestamp int64 `json:"timestamp"`
	Position  struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"iss_position"`
}

type astrosResp struct {
	Number int `json:"number"`
	People []struct {
		Name  string `json:"name"`
		Craft string `json:"craft"`
	} `json:"people"`
}

// Info answers query, which is one of the Query constants; anything else
// means [QueryAll]. For [QueryAll] both endpoints are fetched concurrently.
func (c *Client) Info(ctx context.Context, query string) (string, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	wantPos := query != QueryAstronauts
	wantAstros := query != QueryPosition

	var (
		pos    positionResp
		astros astrosResp
	)
	g, gctx := errgroup.WithContext(ctx)
	if wantPos {
		g.Go(func() error {
			return tools.GetJSON(gctx, c.http, c.breaker, c.base+"/iss-now.json", &pos)
		})
	}
	if wantAstros {
		g.Go(func() error {
			return tools.GetJSON(gctx, c.http, c.breaker, c.base+"/astros.json", &astros)
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("iss: fetch: %w", err)
	}

	var parts []string
	if wantPos {
		parts = append(parts, formatPosition(pos))
	}
	if wantAstros {
		parts = append(parts, formatAstros(astros))
	}
	return strings.Join(parts, "\n"), nil
}

func formatPosition(p positionResp) string {
	lat, _ := strconv.ParseFloat(p.Position.Latitude, 64)
	lon, _ := strconv.ParseFloat(p.Position.Longitude, 64)
	ns, ew := "北緯", "東經"
	if lat < 0 {
		ns, lat = "南緯", -lat
	}
	if lon < 0 {
		ew, lon = "西經", -lon
	}
	s := fmt.Sprintf("國際太空站目前位於%s %.2f 度、%s %.2f 度上空", ns, lat, ew, lon)
	if p.Timestamp > 0 {
		s += "（" + time.Unix(p.Timestamp, 0).UTC().Format("2006-01-02 15:04 UTC") + "）"
	}
	return s + "。"
}

func formatAstros(a astrosResp) string {
	byCraft := map[string][]string{}
	var crafts []string
	for _, p := range a.People {
		if _, ok := byCraft[p.Craft]; !ok {
			crafts = append(crafts, p.Craft)
		}
		byCraft[p.Craft] = append(byCraft[p.Craft], p.Name)
	}
	n := a.Number
	if n == 0 {
		n = len(a.People)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "目前共有 %d 人在太空中", n)
	for _, craft := range crafts {
		fmt.Fprintf(&b, "；%s：%s", craft, strings.Join(byCraft[craft], "、"))
	}
	b.WriteString("。")
	return b.String()
}
