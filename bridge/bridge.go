package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/mcpbridge/correlation"
	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/telemetry"
)

// DefaultPath is where executors connect by default.
const DefaultPath = "/executor"

// Config holds bridge configuration.
type Config struct {
	// CommandTimeout bounds each command from issue to reply.
	// Default: 30s
	CommandTimeout time.Duration

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming message size. Screenshots travel as
	// base64 results, so this is generous.
	MaxMessageSize int64

	// CheckOrigin validates the upgrade request. Default allows only
	// requests without an Origin header or from localhost.
	CheckOrigin func(r *http.Request) bool

	Observer logging.Observer
	Tracer   *telemetry.Tracer
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 30 * time.Second,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 32 * 1024 * 1024,
	}
}

// Bridge routes commands from an issuer to connected executors and returns
// their replies. It is an http.Handler that accepts executor WebSocket
// connections.
type Bridge struct {
	cfg      Config
	registry *Registry
	pending  *correlation.Table
	inflight sync.Map // command id -> command name
	upgrader websocket.Upgrader
	obs      logging.Observer
	tracer   *telemetry.Tracer

	mu     sync.Mutex
	closed bool
}

// New creates a bridge.
func New(cfg Config) *Bridge {
	defaults := DefaultConfig()
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = localOrigin
	}

	return &Bridge{
		cfg:      cfg,
		registry: NewRegistry(),
		pending:  correlation.NewTable(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		obs:    logging.OrDiscard(cfg.Observer),
		tracer: telemetry.OrGlobal(cfg.Tracer),
	}
}

// Registry returns the executor registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Pending returns the number of commands awaiting a reply.
func (b *Bridge) Pending() int {
	return b.pending.Len()
}

// Issue sends command to the first-registered executor and waits for its
// reply. With no executor connected it fails at once with NO_EXECUTOR and
// nothing is registered. If the executor disconnects the command is not
// reassigned; it fails when CommandTimeout elapses.
func (b *Bridge) Issue(ctx context.Context, command string, params interface{}) (json.RawMessage, error) {
	if b.isClosed() {
		return nil, errors.Closed("bridge closed")
	}

	ctx, span := b.tracer.StartCommandSpan(ctx, command)
	spanOpts := telemetry.CommandSpanOptions{Params: params}

	exec, ok := b.registry.Select()
	if !ok {
		err := errors.NoExecutor(errors.WithMetadata(errors.MetaCommand, command))
		b.obs.Warn("command_unroutable", logging.Fields{"command": command})
		b.tracer.EndCommandSpan(span, spanOpts, err)
		return nil, err
	}
	spanOpts.Executor = exec.ID()

	raw, err := encodeParams(params)
	if err != nil {
		err = errors.InvalidInput("encode params: "+err.Error(), errors.WithMetadata(errors.MetaCommand, command))
		b.tracer.EndCommandSpan(span, spanOpts, err)
		return nil, err
	}

	id := uuid.NewString()
	spanOpts.ID = id
	ch, err := b.pending.Expect(id, b.cfg.CommandTimeout)
	if err != nil {
		b.tracer.EndCommandSpan(span, spanOpts, err)
		return nil, err
	}
	b.inflight.Store(id, command)
	defer b.inflight.Delete(id)

	carrier := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, carrier)
	env := Command{ID: id, Command: command, Params: raw}
	if len(carrier) > 0 {
		env.Trace = carrier
	}

	b.obs.Debug("command_issued", logging.Fields{"id": id, "command": command, "executor": exec.ID()})
	if err := exec.send(env); err != nil {
		b.pending.Reject(id, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "send to executor failed",
			errors.WithMetadata(errors.MetaCommand, command),
			errors.WithMetadata(errors.MetaExecutor, exec.ID())))
	}

	var out correlation.Outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		b.pending.Reject(id, errors.Wrap(ctx.Err(), command+" abandoned by caller"))
		out = <-ch
	}

	spanOpts.Result = string(out.Value)
	b.tracer.EndCommandSpan(span, spanOpts, out.Err)

	if out.Err != nil {
		fields := logging.Fields{"id": id, "command": command, "error": out.Err.Error()}
		if errors.Is(out.Err, errors.ErrCodeCanceled) {
			b.obs.Debug("command_canceled", fields)
		} else {
			b.obs.Warn("command_failed", fields)
		}
		return nil, out.Err
	}
	return out.Value, nil
}

// ServeHTTP upgrades an executor connection, registers it for the life of the
// connection and reads its replies.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.isClosed() {
		http.Error(w, "bridge closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		b.obs.Warn("executor_upgrade_failed", logging.Fields{"remote": r.RemoteAddr, "error": err.Error()})
		return
	}

	exec := newExecutor(conn, r.RemoteAddr, b.cfg)
	if err := b.registry.Register(exec); err != nil {
		exec.Close()
		return
	}
	b.obs.Info("executor_connected", logging.Fields{
		"executor":  exec.ID(),
		"remote":    r.RemoteAddr,
		"executors": b.registry.Len(),
	})

	defer func() {
		b.registry.Deregister(exec.ID())
		exec.Close()
		b.obs.Info("executor_disconnected", logging.Fields{
			"executor":  exec.ID(),
			"executors": b.registry.Len(),
		})
	}()

	go exec.keepalive(b.cfg.PingInterval)
	b.readLoop(exec)
}

func (b *Bridge) readLoop(exec *Executor) {
	for {
		_, data, err := exec.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.obs.Debug("executor_read_failed", logging.Fields{"executor": exec.ID(), "error": err.Error()})
			}
			return
		}
		b.settle(exec, data)
	}
}

// settle resolves or rejects the command a reply names. Malformed replies and
// unknown identifiers are dropped.
func (b *Bridge) settle(exec *Executor, data []byte) {
	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil || reply.ID == "" {
		b.obs.Debug("reply_dropped", logging.Fields{"executor": exec.ID(), "reason": "malformed"})
		return
	}

	command := ""
	if v, ok := b.inflight.Load(reply.ID); ok {
		command = v.(string)
	}

	var settled bool
	if reply.Error != nil {
		msg := reply.Error.Message
		if msg == "" {
			msg = "executor reported an error"
		}
		settled = b.pending.Reject(reply.ID, errors.Executor(command, msg,
			errors.WithMetadata(errors.MetaID, reply.ID),
			errors.WithMetadata(errors.MetaExecutor, exec.ID())))
	} else {
		result := reply.Result
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		settled = b.pending.Resolve(reply.ID, result)
	}

	if !settled {
		b.obs.Debug("reply_dropped", logging.Fields{"executor": exec.ID(), "id": reply.ID, "reason": "unknown id"})
	}
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close disconnects every executor and rejects pending commands with
// CANCELED. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	for _, e := range b.registry.snapshot() {
		e.Close()
	}
	b.registry.Close()

	if n := b.pending.RejectAll(errors.Canceled("bridge closed")); n > 0 {
		b.obs.Debug("pending_rejected", logging.Fields{"count": n})
	}
	return nil
}

// localOrigin accepts upgrade requests without an Origin header (native
// clients) and browser-extension or localhost origins.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{
		"chrome-extension://",
		"moz-extension://",
		"http://localhost",
		"http://127.0.0.1",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// AllowOrigins returns an origin check that accepts the listed origins in
// addition to those localOrigin accepts.
func AllowOrigins(allowed map[string]bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return localOrigin(r) || allowed[strings.TrimRight(r.Header.Get("Origin"), "/")]
	}
}
