package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCP transports.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// MCPServer describes how to reach one MCP tool server.
type MCPServer struct {
	Name      string
	Transport string

	// Command is split on spaces into executable and arguments (stdio).
	Command string

	// Env is appended to the subprocess environment (stdio).
	Env map[string]string

	// URL is the endpoint (streamable-http).
	URL string

	// Token, when set, is sent as a Bearer token (streamable-http).
	Token string
}

// MCPClient connects to MCP servers and imports their tools into a
// [Registry]. One SDK client is shared across all sessions.
//
// The zero value is not usable; create instances with [NewMCPClient].
type MCPClient struct {
	client *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
	owned    map[string][]string // server name -> tool names
}

// NewMCPClient returns a client with no connections.
func NewMCPClient() *MCPClient {
	return &MCPClient{
		client:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: "spacelive", Version: "1.0.0"}, nil),
		sessions: make(map[string]*mcpsdk.ClientSession),
		owned:    make(map[string][]string),
	}
}

// Connect dials srv, lists its tools and registers each one in reg. Tools
// whose names collide with an already-registered tool from another source
// are skipped. Reconnecting a known server replaces its session and tools.
// It returns the number of tools imported.
func (c *MCPClient) Connect(ctx context.Context, srv MCPServer, reg *Registry) (int, error) {
	transport, err := c.transport(ctx, srv)
	if err != nil {
		return 0, err
	}
	return c.ConnectTransport(ctx, srv.Name, transport, reg)
}

// ConnectTransport is [MCPClient.Connect] over an already-built transport.
func (c *MCPClient) ConnectTransport(ctx context.Context, name string, transport mcpsdk.Transport, reg *Registry) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("tools: mcp server must have a non-empty name")
	}
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return 0, fmt.Errorf("tools: connect mcp server %q: %w", name, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return 0, fmt.Errorf("tools: list tools of mcp server %q: %w", name, err)
		}
		discovered = append(discovered, tool)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.sessions[name]; ok {
		_ = old.Close()
		for _, n := range c.owned[name] {
			reg.Unregister(n)
		}
	}
	c.sessions[name] = session

	var imported []string
	for _, t := range discovered {
		if existing, ok := reg.Get(t.Name); ok && existing.Source != name {
			slog.Warn("mcp tool shadows an existing tool; skipped",
				"server", name, "tool", t.Name, "existing_source", existing.Source)
			continue
		}
		tool := Tool{
			Name:        t.Name,
			Description: t.Description,
			Params:      paramsFromSchema(schemaToMap(t.InputSchema)),
			Func:        callFunc(session, t.Name),
			Source:      name,
		}
		if err := reg.Register(tool); err != nil {
			slog.Warn("mcp tool rejected", "server", name, "tool", t.Name, "err", err)
			continue
		}
		imported = append(imported, t.Name)
	}
	c.owned[name] = imported
	slog.Info("mcp server connected", "server", name, "tools", len(imported))
	return len(imported), nil
}

func (c *MCPClient) transport(ctx context.Context, srv MCPServer) (mcpsdk.Transport, error) {
	switch srv.Transport {
	case TransportStdio, "":
		executable, args := splitCommand(srv.Command)
		if executable == "" {
			return nil, fmt.Errorf("tools: stdio mcp server %q requires a non-empty command", srv.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		if len(srv.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range srv.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case TransportStreamableHTTP:
		if srv.URL == "" {
			return nil, fmt.Errorf("tools: streamable-http mcp server %q requires a non-empty url", srv.Name)
		}
		t := &mcpsdk.StreamableClientTransport{Endpoint: srv.URL}
		if srv.Token != "" {
			t.HTTPClient = &http.Client{Transport: bearerTransport{token: srv.Token, base: http.DefaultTransport}}
		}
		return t, nil
	}
	return nil, fmt.Errorf("tools: unknown mcp transport %q for server %q", srv.Transport, srv.Name)
}

// Servers returns the names of connected servers, sorted.
func (c *MCPClient) Servers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.sessions))
	for n := range c.sessions {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Close shuts down every session. Imported tools stay registered but fail
// when called.
func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, s := range c.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close mcp server %q: %w", name, err)
		}
		delete(c.sessions, name)
	}
	return firstErr
}

func callFunc(session *mcpsdk.ClientSession, name string) Func {
	return func(ctx context.Context, args map[string]string) (string, error) {
		argsMap := make(map[string]any, len(args))
		for k, v := range args {
			argsMap[k] = v
		}
		res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argsMap})
		if err != nil {
			return "", fmt.Errorf("tools: call mcp tool %q: %w", name, err)
		}
		var sb strings.Builder
		for _, content := range res.Content {
			if tc, ok := content.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if res.IsError {
			return "", fmt.Errorf("tools: mcp tool %q reported an error: %s", name, sb.String())
		}
		return sb.String(), nil
	}
}

// paramsFromSchema reads the top-level properties of a JSON Schema object.
func paramsFromSchema(schema map[string]any) []Param {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	if list, ok := schema["required"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	slices.Sort(names)

	out := make([]Param, 0, len(names))
	for _, n := range names {
		def, _ := props[n].(map[string]any)
		typ, _ := def["type"].(string)
		if typ == "" {
			typ = TypeString
		}
		desc, _ := def["description"].(string)
		out = append(out, Param{Name: n, Type: typ, Description: desc, Required: required[n]})
	}
	return out
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
