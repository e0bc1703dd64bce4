package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vinayprograms/mcpbridge/correlation"
	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/telemetry"
)

// StreamableConfig holds streamable HTTP transport configuration.
type StreamableConfig struct {
	Config // Embed base config

	// HTTPClient performs requests. Default: an otelhttp-instrumented client
	// with no overall timeout, since streams may stay open.
	HTTPClient *http.Client

	// Headers are added to every request (e.g. Authorization).
	Headers map[string]string

	// RequestTimeout bounds how long Call waits for a response.
	// Default: 60s
	RequestTimeout time.Duration

	// TerminateTimeout bounds the session DELETE issued by Close.
	// Default: 5s
	TerminateTimeout time.Duration

	// MaxErrorBody caps how much of a failed response body is kept.
	// Default: 64KB
	MaxErrorBody int64

	Observer logging.Observer
	Tracer   *telemetry.Tracer
}

// DefaultStreamableConfig returns configuration with sensible defaults.
func DefaultStreamableConfig() StreamableConfig {
	return StreamableConfig{
		Config:           DefaultConfig(),
		RequestTimeout:   60 * time.Second,
		TerminateTimeout: 5 * time.Second,
		MaxErrorBody:     defaultMaxErrorBody,
	}
}

// Streamable is a client for the MCP streamable HTTP transport. Every
// outbound message is one POST; the reply is empty, a JSON document or array,
// or an event stream. Many calls may be outstanding at once and responses are
// matched to callers by identifier.
type Streamable struct {
	url     string
	cfg     StreamableConfig
	client  *http.Client
	obs     logging.Observer
	tracer  *telemetry.Tracer
	session Session
	pending *correlation.Table
	nextID  atomic.Int64

	recv chan *Message

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc
	closed bool
}

// NewStreamable creates a transport for the endpoint at url. Call Start
// before sending.
func NewStreamable(url string, cfg StreamableConfig) *Streamable {
	defaults := DefaultStreamableConfig()
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = defaults.RecvBufferSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.TerminateTimeout <= 0 {
		cfg.TerminateTimeout = defaults.TerminateTimeout
	}
	if cfg.MaxErrorBody <= 0 {
		cfg.MaxErrorBody = defaults.MaxErrorBody
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Streamable{
		url:     url,
		cfg:     cfg,
		client:  client,
		obs:     logging.OrDiscard(cfg.Observer),
		tracer:  telemetry.OrGlobal(cfg.Tracer),
		pending: correlation.NewTable(correlation.WithLabel(keyLabel)),
		recv:    make(chan *Message, cfg.RecvBufferSize),
	}
}

// Start prepares cancellation state. It performs no network I/O.
func (t *Streamable) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.Closed("transport closed")
	}
	if t.base == nil {
		t.base, t.cancel = context.WithCancel(context.Background())
	}
	return nil
}

// Recv returns server-initiated requests and notifications.
// Channel is closed when the transport closes.
func (t *Streamable) Recv() <-chan *Message {
	return t.recv
}

// SessionID returns the session token issued by the server, if any.
func (t *Streamable) SessionID() string {
	return t.session.ID()
}

// Pending returns the number of calls awaiting a response.
func (t *Streamable) Pending() int {
	return t.pending.Len()
}

func (t *Streamable) baseContext() (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.Closed("transport closed")
	}
	if t.base == nil {
		return nil, errors.Closed("transport not started")
	}
	return t.base, nil
}

// Send POSTs msg and delivers whatever the response carries. It returns once
// the response is fully consumed; for an event stream that is when the
// server ends it. Responses settle pending calls; server requests and
// notifications go to Recv.
func (t *Streamable) Send(ctx context.Context, msg *Message) error {
	_, err := t.post(ctx, msg)
	return err
}

// post is Send, additionally reporting whether the server accepted msg with
// no content.
func (t *Streamable) post(ctx context.Context, msg *Message) (accepted bool, err error) {
	base, err := t.baseContext()
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return false, errors.InvalidInput("encode message: " + err.Error())
	}

	reqCtx, cancel := context.WithCancel(base)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return false, errors.InvalidInput("build request: " + err.Error())
	}
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(ProtocolVersionHeader, ProtocolVersion)
	t.session.Apply(req.Header)
	telemetry.InjectHTTP(ctx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		return false, t.abortError(ctx, base, err)
	}

	if t.session.Observe(resp.Header) {
		t.obs.Info("session_established", logging.Fields{
			"url":     t.url,
			"session": t.session.ID(),
		})
	}

	rb, err := decodeResponse(resp, t.cfg.MaxErrorBody)
	if err != nil {
		t.obs.Warn("request_failed", logging.Fields{
			"method": msg.Method,
			"status": resp.StatusCode,
			"error":  err.Error(),
		})
		return false, err
	}
	if err := rb.each(reqCtx, t.obs, t.deliver); err != nil {
		return false, t.abortError(ctx, base, err)
	}
	return rb.kind == bodyEmpty, nil
}

// abortError attributes a failed request to whichever context ended it.
func (t *Streamable) abortError(ctx, base context.Context, err error) error {
	switch {
	case base.Err() != nil:
		return errors.Canceled("transport closed", errors.WithCause(err))
	case ctx.Err() != nil:
		return errors.Wrap(ctx.Err(), "request aborted")
	default:
		return errors.Wrap(err, "post "+t.url)
	}
}

// Call sends a request and waits for its response, the request timeout, or
// ctx, whichever comes first. JSON-RPC error responses are returned as
// REMOTE errors. A request the server accepts with no content completes at
// once with a nil result; a response body that ends without the reply fails
// with TRANSPORT.
func (t *Streamable) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if _, err := t.baseContext(); err != nil {
		return nil, err
	}

	ctx, span := t.tracer.StartRPCSpan(ctx, method)
	id := NewID(t.nextID.Add(1))
	spanOpts := telemetry.RPCSpanOptions{Method: method, ID: id.String()}

	msg, err := NewRequest(id, method, params)
	if err != nil {
		err = errors.InvalidInput(err.Error())
		t.tracer.EndRPCSpan(span, spanOpts, err)
		return nil, err
	}

	key := id.Key()
	ch, err := t.pending.Expect(key, t.cfg.RequestTimeout)
	if err != nil {
		t.tracer.EndRPCSpan(span, spanOpts, err)
		return nil, err
	}

	// The send outlives ctx only until the outcome is known.
	sendCtx, sendCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer sendCancel()
	go func() {
		accepted, err := t.post(sendCtx, msg)
		switch {
		case err != nil:
			t.pending.Reject(key, err)
		case accepted:
			// Nothing else will answer this request.
			t.pending.Resolve(key, nil)
		default:
			t.pending.Reject(key, errors.New(errors.ErrCodeTransport,
				"response to "+method+" ended without a reply",
				errors.WithMetadata(errors.MetaID, id.String())))
		}
	}()

	var out correlation.Outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		t.pending.Reject(key, errors.Wrap(ctx.Err(), "call "+method))
		out = <-ch
	}

	spanOpts.Session = t.session.ID()
	spanOpts.Result = string(out.Value)
	t.tracer.EndRPCSpan(span, spanOpts, out.Err)

	if out.Err != nil {
		if errors.Is(out.Err, errors.ErrCodeCanceled) {
			t.obs.Debug("call_canceled", logging.Fields{"method": method, "id": id.String()})
		} else {
			t.obs.Warn("call_failed", logging.Fields{"method": method, "id": id.String(), "error": out.Err.Error()})
		}
		return nil, out.Err
	}
	return out.Value, nil
}

// Notify sends a notification. No response is awaited and nothing is
// registered for correlation.
func (t *Streamable) Notify(ctx context.Context, method string, params interface{}) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return errors.InvalidInput(err.Error())
	}
	return t.Send(ctx, msg)
}

func (t *Streamable) deliver(m *Message) {
	switch m.Kind() {
	case KindResponse:
		key := m.ID.Key()
		var settled bool
		if m.Error != nil {
			settled = t.pending.Reject(key, errors.Remote(m.Error.Code, m.Error.Message,
				errors.WithMetadata(errors.MetaID, m.ID.String())))
		} else {
			settled = t.pending.Resolve(key, m.Result)
		}
		if !settled {
			t.obs.Debug("response_unmatched", logging.Fields{"id": m.ID.String()})
		}

	case KindRequest, KindNotification:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return
		}
		select {
		case t.recv <- m:
		default:
			t.obs.Warn("recv_dropped", logging.Fields{"method": m.Method})
		}

	default:
		t.obs.Debug("message_ignored", logging.Fields{"reason": "neither request nor response"})
	}
}

// Close terminates the session if one exists, aborts in-flight requests and
// rejects every pending call with a CANCELED error. Termination failures are
// logged and otherwise ignored. Close is idempotent.
func (t *Streamable) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.recv)
	cancel := t.cancel
	t.mu.Unlock()

	if sid := t.session.ID(); sid != "" {
		ctx, done := context.WithTimeout(context.Background(), t.cfg.TerminateTimeout)
		err := t.session.Terminate(ctx, t.client, t.url, t.cfg.Headers)
		done()
		if err != nil {
			t.obs.Debug("session_terminate_failed", logging.Fields{"session": sid, "error": err.Error()})
		} else {
			t.obs.Info("session_terminated", logging.Fields{"session": sid})
		}
	}

	if cancel != nil {
		cancel()
	}
	if n := t.pending.RejectAll(errors.Canceled("transport closed")); n > 0 {
		t.obs.Debug("pending_rejected", logging.Fields{"count": n})
	}
	return nil
}
