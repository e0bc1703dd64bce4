// Package tools exposes browser operations and remote MCP tools behind one
// registry with a uniform call result.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/telemetry"
)

// Tool represents an executable tool.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the caller.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolDefinition is the caller-facing tool definition.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"inputSchema"`
}

// Result is the outcome of Call. Failures are carried in the result rather
// than returned, so a caller can hand them back to whoever asked.
type Result struct {
	Value   interface{}      `json:"value,omitempty"`
	IsError bool             `json:"isError"`
	Error   string           `json:"error,omitempty"`
	Code    errors.ErrorCode `json:"code,omitempty"`
}

// Registry holds all registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	obs   logging.Observer
}

// NewRegistry creates an empty registry. obs may be nil.
func NewRegistry(obs logging.Observer) *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		obs:   logging.OrDiscard(obs),
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if the registry has a tool with the given name.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	return r.Get(name) != nil
}

// Definitions returns definitions for all tools, sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool and returns its raw value or error.
// A panicking tool surfaces as a PANIC error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (value interface{}, err error) {
	t := r.Get(name)
	if t == nil {
		return nil, errors.NotFound("unknown tool: " + name)
	}

	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartToolSpan(ctx, name)
	defer func() {
		if p := recover(); p != nil {
			err = errors.RecoverPanic(p)
		}
		opts := telemetry.ToolSpanOptions{Tool: name, Args: args}
		if err == nil && tracer.Debug() {
			opts.Result = fmt.Sprint(value)
		}
		tracer.EndToolSpan(span, opts, err)
	}()
	return t.Execute(ctx, args)
}

// Call runs the named tool and converts any failure into an error Result.
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}) Result {
	value, err := r.Execute(ctx, name, args)
	if err == nil {
		return Result{Value: value}
	}

	code := errors.Code(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	fields := logging.Fields{"tool": name, "code": string(code), "error": err.Error()}
	if code == errors.ErrCodeCanceled {
		r.obs.Debug("tool_canceled", fields)
	} else {
		r.obs.Warn("tool_failed", fields)
	}
	return Result{IsError: true, Error: err.Error(), Code: code}
}

// decodeValue turns a raw JSON reply into a plain Go value. Null decodes to nil.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.New(errors.ErrCodeTransport, "malformed result", errors.WithCause(err))
	}
	return v, nil
}
