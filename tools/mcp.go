package tools

import (
	"context"
	"strings"

	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/mcp"
)

// MCPSeparator joins server and tool names in registry tool names.
const MCPSeparator = "__"

// ToolCaller invokes a tool on a named MCP server. *mcp.Manager satisfies it.
type ToolCaller interface {
	AllTools() []mcp.ToolWithServer
	CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*mcp.ToolCallResult, error)
}

// MCPTools returns one tool per remote tool currently known to m, named
// server__tool.
func MCPTools(m ToolCaller) []Tool {
	remote := m.AllTools()
	out := make([]Tool, 0, len(remote))
	for _, r := range remote {
		out = append(out, &mcpTool{server: r.Server, tool: r.Tool, caller: m})
	}
	return out
}

// SplitMCPName splits a server__tool name. ok is false for names without
// the separator.
func SplitMCPName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, MCPSeparator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

type mcpTool struct {
	server string
	tool   mcp.Tool
	caller ToolCaller
}

func (t *mcpTool) Name() string { return t.server + MCPSeparator + t.tool.Name }

func (t *mcpTool) Description() string {
	if t.tool.Description == "" {
		return "[" + t.server + "] " + t.tool.Name
	}
	return "[" + t.server + "] " + t.tool.Description
}

func (t *mcpTool) Parameters() map[string]interface{} {
	if t.tool.InputSchema == nil {
		return objectSchema(nil)
	}
	return t.tool.InputSchema
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	res, err := t.caller.CallTool(ctx, t.server, t.tool.Name, args)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, errors.New(errors.ErrCodeRemote, res.Text(),
			errors.WithMetadata("server", t.server),
			errors.WithMetadata("tool", t.tool.Name))
	}
	return res, nil
}
