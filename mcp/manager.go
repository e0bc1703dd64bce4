package mcp

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/mcpbridge/errors"
)

// Manager manages multiple MCP server connections.
type Manager struct {
	clients     map[string]*Client
	deniedTools map[string]map[string]bool // server -> tool -> denied
	opts        []ClientOption
	mu          sync.RWMutex
}

// NewManager creates a new MCP manager. opts apply to every client it connects.
func NewManager(opts ...ClientOption) *Manager {
	return &Manager{
		clients:     make(map[string]*Client),
		deniedTools: make(map[string]map[string]bool),
		opts:        opts,
	}
}

// Connect connects to an MCP server, initializes it and caches its tools.
func (m *Manager) Connect(ctx context.Context, name string, config ServerConfig) error {
	m.mu.RLock()
	_, exists := m.clients[name]
	m.mu.RUnlock()
	if exists {
		return errors.Conflict("server " + name + " already connected")
	}

	client, err := NewClient(name, config, m.opts...)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return errors.Wrap(err, "connect "+name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[name]; exists {
		client.Close()
		return errors.Conflict("server " + name + " already connected")
	}
	m.clients[name] = client
	return nil
}

// SetDeniedTools sets tools to exclude from a server's tool list.
// These tools will not be returned by AllTools() and cannot be called.
func (m *Manager) SetDeniedTools(server string, tools []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	denied := make(map[string]bool)
	for _, t := range tools {
		denied[t] = true
	}
	m.deniedTools[server] = denied
}

// Disconnect disconnects from an MCP server.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	delete(m.clients, name)
	m.mu.Unlock()

	if !ok {
		return errors.NotFound("server " + name + " not connected")
	}
	return client.Close()
}

// ToolWithServer pairs a tool with its server name.
type ToolWithServer struct {
	Server string
	Tool   Tool
}

// AllTools returns all tools from all connected servers, excluding denied
// tools, ordered by server then tool name.
func (m *Manager) AllTools() []ToolWithServer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []ToolWithServer
	for server, client := range m.clients {
		denied := m.deniedTools[server]
		for _, tool := range client.Tools() {
			if denied[tool.Name] {
				continue
			}
			tools = append(tools, ToolWithServer{
				Server: server,
				Tool:   tool,
			})
		}
	}
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Server != tools[j].Server {
			return tools[i].Server < tools[j].Server
		}
		return tools[i].Tool.Name < tools[j].Tool.Name
	})
	return tools
}

// CallTool calls a tool on a specific server.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*ToolCallResult, error) {
	m.mu.RLock()
	client, ok := m.clients[server]
	denied := m.deniedTools[server][tool]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("server " + server + " not connected")
	}
	if denied {
		return nil, errors.InvalidInput("tool " + tool + " on " + server + " is denied")
	}
	return client.CallTool(ctx, tool, args)
}

// FindTool finds which server has a tool, excluding denied tools.
// Servers are searched in name order.
func (m *Manager) FindTool(name string) (server string, found bool) {
	for _, t := range m.AllTools() {
		if t.Tool.Name == name {
			return t.Server, true
		}
	}
	return "", false
}

// Close disconnects all servers concurrently.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var g errgroup.Group
	for _, client := range clients {
		g.Go(client.Close)
	}
	return g.Wait()
}

// ServerCount returns the number of connected servers.
func (m *Manager) ServerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Servers returns the names of connected servers, sorted.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
