package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/telemetry"
)

// Handler executes commands received by a Runtime.
type Handler interface {
	Handle(ctx context.Context, command string, params json.RawMessage) (interface{}, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, command string, params json.RawMessage) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, command string, params json.RawMessage) (interface{}, error) {
	return f(ctx, command, params)
}

// RuntimeConfig holds executor runtime configuration.
type RuntimeConfig struct {
	// Header is sent with the upgrade request.
	Header http.Header

	// Dialer opens the connection. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	Observer logging.Observer
	Tracer   *telemetry.Tracer
}

// Runtime is the executor end of the bridge. It reads commands, runs them
// through a Handler concurrently and writes each reply as it completes.
type Runtime struct {
	conn   *websocket.Conn
	cfg    RuntimeConfig
	obs    logging.Observer
	tracer *telemetry.Tracer

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to a bridge endpoint such as ws://127.0.0.1:8765/executor.
func Dial(ctx context.Context, url string, cfg RuntimeConfig) (*Runtime, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	conn, _, err := dialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		return nil, errors.Wrap(err, "dial bridge "+url)
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Runtime{
		conn:   conn,
		cfg:    cfg,
		obs:    logging.OrDiscard(cfg.Observer),
		tracer: telemetry.OrGlobal(cfg.Tracer),
	}, nil
}

// Serve handles commands until ctx is cancelled or the connection drops.
// It waits for in-flight handlers before returning.
func (r *Runtime) Serve(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read command")
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.ID == "" || cmd.Command == "" {
			r.obs.Debug("command_dropped", logging.Fields{"reason": "malformed"})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handle(ctx, h, cmd)
		}()
	}
}

func (r *Runtime) handle(ctx context.Context, h Handler, cmd Command) {
	if len(cmd.Trace) > 0 {
		ctx = telemetry.ExtractContext(ctx, telemetry.MapCarrier(cmd.Trace))
	}
	ctx, span := r.tracer.StartHandlerSpan(ctx, cmd.Command, cmd.ID)

	result, err := r.invoke(ctx, h, cmd)
	r.tracer.EndHandlerSpan(span, err)

	reply := Reply{ID: cmd.ID}
	if err != nil {
		reply.Error = &ReplyError{Message: err.Error()}
	} else {
		raw, encErr := encodeParams(result)
		if encErr != nil {
			reply.Error = &ReplyError{Message: "encode result: " + encErr.Error()}
		} else {
			reply.Result = raw
		}
	}

	if err := r.write(reply); err != nil {
		r.obs.Warn("reply_failed", logging.Fields{"id": cmd.ID, "command": cmd.Command, "error": err.Error()})
	}
}

func (r *Runtime) invoke(ctx context.Context, h Handler, cmd Command) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.RecoverPanic(rec)
		}
	}()
	return h.Handle(ctx, cmd.Command, cmd.Params)
}

func (r *Runtime) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.writeMu.Lock()
		r.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		r.writeMu.Unlock()
		err = r.conn.Close()
	})
	return err
}
