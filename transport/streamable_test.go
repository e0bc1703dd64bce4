package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/mcpbridge/errors"
)

// readRequest decodes the single message POSTed to a test server.
func readRequest(t *testing.T, r *http.Request) *Message {
	t.Helper()
	body, _ := io.ReadAll(r.Body)
	msgs, err := DecodeMessages(body)
	if err != nil || len(msgs) != 1 {
		t.Errorf("bad request body %q: %v", body, err)
		return &Message{}
	}
	return msgs[0]
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func result(id *ID, v interface{}) *Message {
	raw, _ := json.Marshal(v)
	return &Message{JSONRPC: JSONRPCVersion, ID: id, Result: raw}
}

func newTestTransport(t *testing.T, url string, cfg StreamableConfig) *Streamable {
	t.Helper()
	cfg.HTTPClient = http.DefaultClient
	tr := NewStreamable(url, cfg)
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestStreamable_JSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json, text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.Header.Get(ProtocolVersionHeader); got != ProtocolVersion {
			t.Errorf("%s = %q", ProtocolVersionHeader, got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		req := readRequest(t, r)
		if req.Method != "tools/list" {
			t.Errorf("method = %q", req.Method)
		}
		writeJSON(w, result(req.ID, map[string]int{"n": 1}))
	}))
	defer server.Close()

	cfg := DefaultStreamableConfig()
	cfg.Headers = map[string]string{"Authorization": "Bearer tok"}
	tr := newTestTransport(t, server.URL, cfg)

	got, err := tr.Call(context.Background(), "tools/list", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(got) != `{"n":1}` {
		t.Errorf("result = %s", got)
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestStreamable_ArrayResponseDeliversEachElement(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := readRequest(t, r)
		stray := NewID(999)
		writeJSON(w, []*Message{
			{JSONRPC: JSONRPCVersion, Method: "notifications/message"},
			result(&stray, "ignored"),
			result(req.ID, "ok"),
		})
	}))
	defer server.Close()

	cfg := DefaultStreamableConfig()
	cfg.Observer = rec
	tr := newTestTransport(t, server.URL, cfg)

	got, err := tr.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(got) != `"ok"` {
		t.Errorf("result = %s", got)
	}

	select {
	case msg := <-tr.Recv():
		if msg.Method != "notifications/message" {
			t.Errorf("Recv method = %q", msg.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
	if rec.count("response_unmatched") != 1 {
		t.Errorf("response_unmatched events = %d, want 1", rec.count("response_unmatched"))
	}
}

func TestStreamable_EventStreamResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := readRequest(t, r)
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "id: 0\ndata:\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		flusher.Flush()

		data, _ := json.Marshal(result(req.ID, []int{1, 2}))
		// Split the response frame across two writes.
		fmt.Fprintf(w, "event: message\ndata: %s", data[:10])
		flusher.Flush()
		fmt.Fprintf(w, "%s\n\n", data[10:])
		flusher.Flush()
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())

	got, err := tr.Call(context.Background(), "tools/call", map[string]string{"name": "x"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(got) != `[1,2]` {
		t.Errorf("result = %s", got)
	}

	select {
	case msg := <-tr.Recv():
		if msg.Method != "notifications/progress" {
			t.Errorf("Recv method = %q", msg.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("streamed notification not delivered")
	}
}

func TestStreamable_NotifyAccepted(t *testing.T) {
	var sawID atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if readRequest(t, r).HasID() {
			sawID.Store(true)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())

	if err := tr.Notify(context.Background(), "notifications/initialized", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sawID.Load() {
		t.Error("notification carried an id")
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestStreamable_CallAcceptedCompletesImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readRequest(t, r)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())

	start := time.Now()
	v, err := tr.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != nil {
		t.Errorf("result = %s, want none", v)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("accepted call took %v", elapsed)
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestStreamable_StreamEndingWithoutReplyFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readRequest(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())
	_, err := tr.Call(context.Background(), "tools/list", nil)
	if !errors.Is(err, errors.ErrCodeTransport) {
		t.Fatalf("err = %v, want TRANSPORT", err)
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestStreamable_ErrorStatusReachesCaller(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad session", http.StatusBadRequest)
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())

	_, err := tr.Call(context.Background(), "tools/list", nil)
	if !errors.Is(err, errors.ErrCodeTransport) {
		t.Fatalf("err = %v, want TRANSPORT", err)
	}
	meta := errors.GetMetadata(err)
	if meta[errors.MetaStatus] != "400" {
		t.Errorf("status metadata = %q", meta[errors.MetaStatus])
	}
	if meta[errors.MetaBody] != "bad session\n" {
		t.Errorf("body metadata = %q", meta[errors.MetaBody])
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestStreamable_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())
	_, err := tr.Call(context.Background(), "tools/list", nil)
	if !errors.Is(err, errors.ErrCodeTransport) || !errors.IsRetryable(err) {
		t.Errorf("Call err = %v, want retryable TRANSPORT", err)
	}
	err = tr.Notify(context.Background(), "notifications/initialized", nil)
	if !errors.Is(err, errors.ErrCodeTransport) || !errors.IsRetryable(err) {
		t.Errorf("Notify err = %v, want retryable TRANSPORT", err)
	}
}

func TestStreamable_RPCErrorIsRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := readRequest(t, r)
		writeJSON(w, &Message{
			JSONRPC: JSONRPCVersion,
			ID:      req.ID,
			Error:   &Error{Code: MethodNotFound, Message: "no such method"},
		})
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())
	_, err := tr.Call(context.Background(), "bogus", nil)
	if !errors.Is(err, errors.ErrCodeRemote) {
		t.Fatalf("err = %v, want REMOTE", err)
	}
	if errors.GetMetadata(err)[errors.MetaRPCCode] != "-32601" {
		t.Errorf("rpc code metadata = %v", errors.GetMetadata(err))
	}
}

func TestStreamable_SessionLifecycle(t *testing.T) {
	var (
		mu       sync.Mutex
		posts    int
		sessions []string
		deleted  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodDelete {
			deleted = r.Header.Get(SessionHeader)
			w.WriteHeader(http.StatusOK)
			return
		}
		posts++
		sessions = append(sessions, r.Header.Get(SessionHeader))
		// Every response names a session; only the first may stick.
		w.Header().Set(SessionHeader, fmt.Sprintf("abc-%d", posts))
		if posts == 1 {
			w.Header().Set(SessionHeader, "abc")
		}
		req := readRequest(t, r)
		if !req.HasID() {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, result(req.ID, true))
	}))
	defer server.Close()

	tr := NewStreamable(server.URL, StreamableConfig{HTTPClient: server.Client()})
	tr.Start()

	ctx := context.Background()
	if _, err := tr.Call(ctx, "initialize", nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := tr.Notify(ctx, "notifications/initialized", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if _, err := tr.Call(ctx, "tools/list", nil); err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	if tr.SessionID() != "abc" {
		t.Errorf("SessionID() = %q, want abc", tr.SessionID())
	}
	tr.Close()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"", "abc", "abc"}
	if fmt.Sprint(sessions) != fmt.Sprint(want) {
		t.Errorf("session headers = %q, want %q", sessions, want)
	}
	if deleted != "abc" {
		t.Errorf("DELETE session = %q, want abc", deleted)
	}
}

func TestStreamable_CloseIgnoresTerminateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set(SessionHeader, "s1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())
	tr.Notify(context.Background(), "notifications/initialized", nil)

	if err := tr.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestStreamable_ClosedRejectsAllPending(t *testing.T) {
	const n = 4
	arrived := make(chan struct{}, n)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readRequest(t, r)
		arrived <- struct{}{}
		<-r.Context().Done()
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := tr.Call(context.Background(), "slow", nil)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case <-arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("requests never reached server")
		}
	}
	if tr.Pending() != n {
		t.Fatalf("Pending() = %d, want %d", tr.Pending(), n)
	}

	tr.Close()

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, errors.ErrCodeCanceled) {
				t.Errorf("err = %v, want CANCELED", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending call not settled by Close")
		}
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestStreamable_OutOfOrderResponses(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := readRequest(t, r)
		if req.Method == "slow" {
			<-release
		}
		writeJSON(w, result(req.ID, req.Method))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())

	slow := make(chan string, 1)
	go func() {
		v, err := tr.Call(context.Background(), "slow", nil)
		if err != nil {
			t.Errorf("slow: %v", err)
		}
		slow <- string(v)
	}()

	fast, err := tr.Call(context.Background(), "fast", nil)
	if err != nil {
		t.Fatalf("fast: %v", err)
	}
	close(release)

	if string(fast) != `"fast"` {
		t.Errorf("fast result = %s", fast)
	}
	select {
	case v := <-slow:
		if v != `"slow"` {
			t.Errorf("slow result = %s", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("slow call never completed")
	}
}

func TestStreamable_TimeoutThenLateReply(t *testing.T) {
	rec := &recorder{}
	var (
		mu     sync.Mutex
		slowID *ID
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := readRequest(t, r)
		mu.Lock()
		defer mu.Unlock()
		if req.Method == "slow" {
			slowID = req.ID
			mu.Unlock()
			<-r.Context().Done()
			mu.Lock()
			return
		}
		// Answer the earlier request on an unrelated POST.
		writeJSON(w, result(slowID, "late"))
	}))
	defer server.Close()

	cfg := DefaultStreamableConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.Observer = rec
	tr := newTestTransport(t, server.URL, cfg)

	_, err := tr.Call(context.Background(), "slow", nil)
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
	if !strings.Contains(err.Error(), "request 1 timed out") {
		t.Errorf("err = %v, want the wire id in the message", err)
	}
	if id := errors.GetMetadata(err)[errors.MetaID]; id != "1" {
		t.Errorf("id metadata = %q, want 1", id)
	}

	if err := tr.Notify(context.Background(), "notifications/poke", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if rec.count("response_unmatched") != 1 {
		t.Errorf("response_unmatched events = %d, want 1", rec.count("response_unmatched"))
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestStreamable_CallerCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readRequest(t, r)
		<-r.Context().Done()
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL, DefaultStreamableConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Call(ctx, "slow", nil)
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Errorf("err = %v, want TIMEOUT from deadline", err)
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}
}

func TestStreamable_RequiresStart(t *testing.T) {
	tr := NewStreamable("http://127.0.0.1:0", DefaultStreamableConfig())
	_, err := tr.Call(context.Background(), "ping", nil)
	if !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("before Start: err = %v, want CLOSED", err)
	}

	tr.Start()
	tr.Close()
	if err := tr.Notify(context.Background(), "x", nil); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("after Close: err = %v, want CLOSED", err)
	}
	if err := tr.Start(); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("Start after Close: err = %v, want CLOSED", err)
	}
	if _, ok := <-tr.Recv(); ok {
		t.Error("Recv channel should be closed")
	}
}
