// Package mcp provides MCP (Model Context Protocol) client support.
// MCP allows connecting to external tool servers over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/telemetry"
	"github.com/vinayprograms/mcpbridge/transport"
)

// Client identity sent during initialization.
const (
	ClientName    = "mcpbridge"
	ClientVersion = "1.0.0"
)

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ToolCallParams are the parameters for tools/call.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Text joins the text items of the result.
func (r *ToolCallResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type != "text" || c.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += c.Text
	}
	return out
}

// Content represents content in a tool result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"` // base64 for images
	MimeType string `json:"mimeType,omitempty"`
}

// ServerInfo is what the server reported about itself on initialize.
type ServerInfo struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Instructions string `json:"instructions,omitempty"`
}

// ServerConfig configures an MCP server connection.
type ServerConfig struct {
	URL     string
	Headers map[string]string
	// Token is sent as a bearer Authorization header.
	Token string
	// Timeout bounds each request. Zero uses the transport default.
	Timeout time.Duration
}

// Client is an MCP client for one server.
type Client struct {
	name      string
	transport *transport.Streamable
	obs       logging.Observer
	tracer    *telemetry.Tracer

	mu     sync.RWMutex
	tools  []Tool
	info   *ServerInfo
	ready  bool
	closed bool
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	observer   logging.Observer
	tracer     *telemetry.Tracer
}

// WithObserver sets the event observer.
func WithObserver(obs logging.Observer) ClientOption {
	return func(o *clientOptions) { o.observer = obs }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) ClientOption {
	return func(o *clientOptions) { o.tracer = t }
}

// WithHTTPClient overrides the HTTP client used by the transport.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// NewClient creates a client for the server at config.URL. Call Connect
// before use.
func NewClient(name string, config ServerConfig, opts ...ClientOption) (*Client, error) {
	if config.URL == "" {
		return nil, errors.InvalidInput("mcp server " + name + ": url is required")
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	headers := make(map[string]string, len(config.Headers)+1)
	for k, v := range config.Headers {
		headers[k] = v
	}
	if config.Token != "" {
		headers["Authorization"] = "Bearer " + config.Token
	}

	cfg := transport.DefaultStreamableConfig()
	cfg.Headers = headers
	cfg.HTTPClient = o.httpClient
	cfg.Observer = o.observer
	cfg.Tracer = o.tracer
	if config.Timeout > 0 {
		cfg.RequestTimeout = config.Timeout
	}

	return &Client{
		name:      name,
		transport: transport.NewStreamable(config.URL, cfg),
		obs:       logging.OrDiscard(o.observer),
		tracer:    telemetry.OrGlobal(o.tracer),
	}, nil
}

// Connect performs the MCP initialization handshake and fetches the tool list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Start(); err != nil {
		return err
	}

	raw, err := c.transport.Call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": transport.ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    ClientName,
			"version": ClientVersion,
		},
	})
	if err != nil {
		return errors.Wrap(err, "initialize "+c.name)
	}

	var info ServerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return errors.New(errors.ErrCodeTransport, "malformed initialize result from "+c.name, errors.WithCause(err))
	}

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return errors.Wrap(err, "initialized notification to "+c.name)
	}

	c.mu.Lock()
	c.info = &info
	c.ready = true
	c.mu.Unlock()

	c.obs.Info("mcp_connected", logging.Fields{
		"server":   c.name,
		"protocol": info.ProtocolVersion,
		"session":  c.transport.SessionID(),
	})

	_, err = c.ListTools(ctx)
	return err
}

// ServerInfo returns what the server reported on initialize.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// SessionID returns the transport session, if the server issued one.
func (c *Client) SessionID() string {
	return c.transport.SessionID()
}

func (c *Client) checkReady() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.Closed("mcp client " + c.name + " closed")
	}
	if !c.ready {
		return errors.New(errors.ErrCodeInvalidInput, "mcp client "+c.name+" not initialized")
	}
	return nil
}

// ListTools fetches available tools from the server, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}

	var all []Tool
	cursor := ""
	for {
		var params interface{}
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		raw, err := c.transport.Call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}

		var page ToolsListResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, errors.New(errors.ErrCodeTransport, "malformed tools list from "+c.name, errors.WithCause(err))
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}

	c.mu.Lock()
	c.tools = all
	c.mu.Unlock()
	return all, nil
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolCallResult, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.StartMCPSpan(ctx, c.name, name)
	spanOpts := telemetry.MCPSpanOptions{Server: c.name, Tool: name, Args: args}

	raw, err := c.transport.Call(ctx, "tools/call", ToolCallParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		c.tracer.EndMCPSpan(span, spanOpts, err)
		return nil, err
	}

	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		err = errors.New(errors.ErrCodeTransport, "malformed tool result from "+c.name, errors.WithCause(err))
		c.tracer.EndMCPSpan(span, spanOpts, err)
		return nil, err
	}

	spanOpts.Result = string(raw)
	c.tracer.EndMCPSpan(span, spanOpts, nil)
	return &result, nil
}

// Tools returns cached tools.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// Notifications returns server-initiated messages (progress, logging,
// list_changed). Closed when the client closes.
func (c *Client) Notifications() <-chan *transport.Message {
	return c.transport.Recv()
}

// Close terminates the session and releases the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.transport.Close()
}
