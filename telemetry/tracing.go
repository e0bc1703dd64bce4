// OpenTelemetry tracing for RPC calls, bridge commands and tool executions.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with bridge-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include payloads in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// OrGlobal returns t, or the global tracer when t is nil.
func OrGlobal(t *Tracer) *Tracer {
	if t == nil {
		return GetTracer()
	}
	return t
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// Debug returns whether payloads are recorded on spans.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- RPC Spans ---

// RPCSpanOptions describes one JSON-RPC call over the streamable transport.
type RPCSpanOptions struct {
	Method  string
	ID      string
	Session string
	Result  string // Only included if debug=true
}

// StartRPCSpan starts a client span for a JSON-RPC call.
func (t *Tracer) StartRPCSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "rpc."+method, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
	)
	return ctx, span
}

// EndRPCSpan ends an RPC span.
func (t *Tracer) EndRPCSpan(span trace.Span, opts RPCSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.jsonrpc.request_id", opts.ID),
	}
	if opts.Session != "" {
		attrs = append(attrs, attribute.String("mcp.session_id", opts.Session))
	}
	if t.debug && opts.Result != "" {
		attrs = append(attrs, attribute.String("rpc.result", truncate(opts.Result, 4000)))
	}
	span.SetAttributes(attrs...)
	finish(span, err)
}

// --- Bridge Command Spans ---

// CommandSpanOptions describes one command routed through the bridge.
type CommandSpanOptions struct {
	ID       string
	Executor string
	Params   interface{} // Only included if debug=true
	Result   string      // Only included if debug=true
}

// StartCommandSpan starts a span for a bridge command.
func (t *Tracer) StartCommandSpan(ctx context.Context, command string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bridge."+command, trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(attribute.String("bridge.command", command))
	return ctx, span
}

// EndCommandSpan ends a bridge command span.
func (t *Tracer) EndCommandSpan(span trace.Span, opts CommandSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("bridge.command_id", opts.ID),
	}
	if opts.Executor != "" {
		attrs = append(attrs, attribute.String("bridge.executor", opts.Executor))
	}
	if t.debug {
		if opts.Params != nil {
			attrs = append(attrs, attribute.String("bridge.params", truncateAny(opts.Params, 2000)))
		}
		if opts.Result != "" {
			attrs = append(attrs, attribute.String("bridge.result", truncate(opts.Result, 4000)))
		}
	}
	span.SetAttributes(attrs...)
	finish(span, err)
}

// StartHandlerSpan starts the executor-side span for a received command.
// ctx should already carry the issuer's extracted trace context.
func (t *Tracer) StartHandlerSpan(ctx context.Context, command, id string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "executor."+command, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("bridge.command", command),
		attribute.String("bridge.command_id", id),
	)
	return ctx, span
}

// EndHandlerSpan ends an executor-side span.
func (t *Tracer) EndHandlerSpan(span trace.Span, err error) {
	finish(span, err)
}

// --- Tool Spans ---

// ToolSpanOptions contains options for tool execution spans.
type ToolSpanOptions struct {
	Tool   string
	Args   map[string]interface{} // Always included (model-controlled)
	Result string                 // Only included if debug=true
}

// StartToolSpan starts a span for a tool execution.
func (t *Tracer) StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "tool."+toolName, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("tool.name", toolName))
	return ctx, span
}

// EndToolSpan ends a tool span with attributes.
func (t *Tracer) EndToolSpan(span trace.Span, opts ToolSpanOptions, err error) {
	for k, v := range opts.Args {
		span.SetAttributes(attribute.String("tool.arg."+k, truncateAny(v, 500)))
	}
	if t.debug && opts.Result != "" {
		span.SetAttributes(attribute.String("tool.result", truncate(opts.Result, 4000)))
	}
	finish(span, err)
}

// --- MCP Spans ---

// MCPSpanOptions contains options for MCP tool call spans.
type MCPSpanOptions struct {
	Server string
	Tool   string
	Args   map[string]interface{}
	Result string // Only included if debug=true
}

// StartMCPSpan starts a span for an MCP tool call.
func (t *Tracer) StartMCPSpan(ctx context.Context, server, tool string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "mcp."+server+"."+tool, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("mcp.server", server),
		attribute.String("mcp.tool", tool),
	)
	return ctx, span
}

// EndMCPSpan ends an MCP span with attributes.
func (t *Tracer) EndMCPSpan(span trace.Span, opts MCPSpanOptions, err error) {
	for k, v := range opts.Args {
		span.SetAttributes(attribute.String("mcp.arg."+k, truncateAny(v, 500)))
	}
	if t.debug && opts.Result != "" {
		span.SetAttributes(attribute.String("mcp.result", truncate(opts.Result, 4000)))
	}
	finish(span, err)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectHTTP writes trace context into outbound request headers.
func InjectHTTP(ctx context.Context, h http.Header) {
	InjectContext(ctx, propagation.HeaderCarrier(h))
}

// MapCarrier is a simple map-based TextMapCarrier. The bridge uses it to
// carry trace context inside command envelopes.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func truncateAny(v interface{}, maxLen int) string {
	switch val := v.(type) {
	case string:
		return truncate(val, maxLen)
	case json.RawMessage:
		return truncate(string(val), maxLen)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "<unmarshalable>"
		}
		return truncate(string(data), maxLen)
	}
}
