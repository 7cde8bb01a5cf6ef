package mcpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

type Server struct {
	ID        string
	Name      string
	URL       string
	Transport string
	Headers   map[string]string
}

type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Pool keeps one initialized MCP session per server id.
type Pool struct {
	log         *logger.Logger
	callTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*client.Client
}

func NewPool(log *logger.Logger, callTimeout time.Duration) *Pool {
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Pool{
		log:         log.With("component", "McpPool"),
		callTimeout: callTimeout,
		sessions:    map[string]*client.Client{},
	}
}

func (p *Pool) session(ctx context.Context, srv Server) (*client.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.sessions[srv.ID]; ok {
		return c, nil
	}
	c, err := connect(ctx, srv)
	if err != nil {
		return nil, err
	}
	p.sessions[srv.ID] = c
	return c, nil
}

func (p *Pool) drop(id string) {
	p.mu.Lock()
	c, ok := p.sessions[id]
	delete(p.sessions, id)
	p.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

func connect(ctx context.Context, srv Server) (*client.Client, error) {
	if strings.TrimSpace(srv.URL) == "" {
		return nil, fmt.Errorf("mcp server %s: url required", srv.ID)
	}
	var (
		c   *client.Client
		err error
	)
	switch strings.ToLower(strings.TrimSpace(srv.Transport)) {
	case TransportSSE:
		c, err = client.NewSSEMCPClient(srv.URL, client.WithHeaders(srv.Headers))
	default:
		c, err = client.NewStreamableHttpClient(srv.URL, transport.WithHTTPHeaders(srv.Headers))
	}
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: %w", srv.ID, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp server %s: start: %w", srv.ID, err)
	}
	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "chorus", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, init); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp server %s: initialize: %w", srv.ID, err)
	}
	return c, nil
}

func (p *Pool) ListTools(ctx context.Context, srv Server) ([]ToolInfo, error) {
	c, err := p.session(ctx, srv)
	if err != nil {
		return nil, err
	}
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		p.drop(srv.ID)
		return nil, fmt.Errorf("mcp server %s: list tools: %w", srv.ID, err)
	}
	out := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, ToolInfo{Name: t.Name, Description: t.Description, InputSchema: inputSchema(t)})
	}
	return out, nil
}

// inputSchema goes through the tool's own JSON encoding, which prefers a raw schema when set.
func inputSchema(t mcp.Tool) map[string]any {
	b, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil
	}
	return wire.InputSchema
}

func (p *Pool) CallTool(ctx context.Context, srv Server, name string, input json.RawMessage) (json.RawMessage, error) {
	c, err := p.session(ctx, srv)
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("tool %s: arguments must be a JSON object: %w", name, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.drop(srv.ID)
		}
		return nil, fmt.Errorf("mcp server %s: call %s: %w", srv.ID, name, err)
	}

	var texts []string
	for _, content := range res.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			texts = append(texts, v.Text)
		case *mcp.TextContent:
			texts = append(texts, v.Text)
		}
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %s failed: %s", name, strings.Join(texts, "\n"))
	}
	if res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			return b, nil
		}
	}
	joined := strings.Join(texts, "\n")
	if json.Valid([]byte(joined)) && joined != "" {
		return json.RawMessage(joined), nil
	}
	b, _ := json.Marshal(map[string]any{"content": joined})
	return b, nil
}

func (p *Pool) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = map[string]*client.Client{}
	p.mu.Unlock()
	for id, c := range sessions {
		if err := c.Close(); err != nil {
			p.log.Warn("mcp session close failed", "server_id", id, "error", err)
		}
	}
}
