package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
)

// ErrNotConnected is returned by calls made before Connect or after Close.
var ErrNotConnected = errors.New("mcpclient: not connected")

// Client is a single connection to an MCP server.
type Client struct {
	cfg    Config
	client *mcp.Client

	mu         sync.Mutex
	session    *mcp.ClientSession
	generation session.Generation
}

// New validates cfg and returns an unconnected Client.
func New(cfg *Config) (*Client, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    normalized,
		client: mcp.NewClient(normalized.Implementation, nil),
	}, nil
}

// Connect establishes the session, trying the streamable transport before the
// legacy one unless PreferSSE is set.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return fmt.Errorf("mcpclient: already connected over %s", c.generation)
	}

	httpClient := decorateHTTPClient(c.cfg.HTTPClient, c.cfg.Headers)

	var streamErr error
	if !c.cfg.PreferSSE {
		transport := &mcp.StreamableClientTransport{
			Endpoint:   c.cfg.Endpoint,
			HTTPClient: httpClient,
			MaxRetries: c.cfg.MaxRetries,
		}
		cs, err := c.attempt(ctx, c.cfg.Endpoint, transport)
		if err == nil {
			c.connected(cs, session.GenerationStreamable)
			return nil
		}
		streamErr = err
		c.cfg.Logger.Debug("streamable connect failed, trying sse", "endpoint", c.cfg.Endpoint, "error", err)
	}

	transport := &mcp.SSEClientTransport{Endpoint: c.cfg.SSEEndpoint, HTTPClient: httpClient}
	cs, err := c.attempt(ctx, c.cfg.SSEEndpoint, transport)
	if err != nil {
		if streamErr != nil {
			return errors.Join(
				fmt.Errorf("mcpclient: streamable error: %w", streamErr),
				fmt.Errorf("mcpclient: sse error: %w", err),
			)
		}
		return fmt.Errorf("mcpclient: sse error: %w", err)
	}
	c.connected(cs, session.GenerationLegacy)
	return nil
}

// attempt connects one transport. The dial is bounded by Timeout but the
// session outlives it: the legacy event stream is bound to the context
// passed here, so it must not be cancelled when Connect returns.
func (c *Client) attempt(ctx context.Context, endpoint string, transport mcp.Transport) (*mcp.ClientSession, error) {
	if c.cfg.RPCLogger != nil {
		transport = &loggingTransport{endpoint: endpoint, delegate: transport, logger: c.cfg.RPCLogger}
	}
	sessionCtx := context.WithoutCancel(ctx)
	type result struct {
		cs  *mcp.ClientSession
		err error
	}
	done := make(chan result, 1)
	go func() {
		cs, err := c.client.Connect(sessionCtx, transport, nil)
		done <- result{cs, err}
	}()

	dialCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	select {
	case r := <-done:
		return r.cs, r.err
	case <-dialCtx.Done():
		go func() {
			if r := <-done; r.cs != nil {
				_ = r.cs.Close()
			}
		}()
		return nil, dialCtx.Err()
	}
}

func (c *Client) connected(cs *mcp.ClientSession, gen session.Generation) {
	c.session = cs
	c.generation = gen
	c.cfg.Logger.Info("connected", "generation", gen, "session", cs.ID())
}

// Generation reports which transport generation the session uses, or "" when
// not connected.
func (c *Client) Generation() session.Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SessionID returns the server-assigned session id. Legacy sessions carry
// their id in the message endpoint instead, so it is empty for them.
func (c *Client) SessionID() string {
	cs, err := c.current()
	if err != nil {
		return ""
	}
	return cs.ID()
}

// ListTools returns every tool the server advertises, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	cs, err := c.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var out []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := cs.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("mcpclient: list tools: %w", err)
		}
		out = append(out, res.Tools...)
		if res.NextCursor == "" {
			return out, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

// CallTool invokes a tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	cs, err := c.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: call %s: %w", name, err)
	}
	return res, nil
}

// CallToolText invokes a tool and joins its text content. A result flagged as
// an error is returned as an error carrying that text.
func (c *Client) CallToolText(ctx context.Context, name string, args any) (string, error) {
	res, err := c.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	text := ResultText(res)
	if res.IsError {
		return "", fmt.Errorf("mcpclient: tool %s failed: %s", name, text)
	}
	return text, nil
}

// ResultText joins the text content blocks of res with newlines.
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Ping checks that the session is alive.
func (c *Client) Ping(ctx context.Context) error {
	cs, err := c.current()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := cs.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mcpclient: ping: %w", err)
	}
	return nil
}

// Close ends the session. It is a no-op on an unconnected Client.
func (c *Client) Close() error {
	c.mu.Lock()
	cs := c.session
	c.session = nil
	c.generation = ""
	c.mu.Unlock()
	if cs == nil {
		return nil
	}
	return cs.Close()
}

func (c *Client) current() (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}
