package transport

import (
	"strings"
	"sync"
	"testing"

	"github.com/vinayprograms/mcpbridge/logging"
)

// recorder captures observer events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) Debug(event string, _ ...logging.Fields) { r.add(event) }
func (r *recorder) Info(event string, _ ...logging.Fields)  { r.add(event) }
func (r *recorder) Warn(event string, _ ...logging.Fields)  { r.add(event) }
func (r *recorder) Error(event string, _ ...logging.Fields) { r.add(event) }

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func ids(msgs []*Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.ID != nil {
			out[i] = m.ID.String()
		}
	}
	return out
}

func TestSSEParser_FrameSplitAcrossFeeds(t *testing.T) {
	p := NewSSEParser(nil)

	if got := p.Feed([]byte(`data: {"id":1`)); len(got) != 0 {
		t.Fatalf("partial frame emitted %d messages", len(got))
	}
	got := p.Feed([]byte(`,"result":true}` + "\n\n"))
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].ID.String() != "1" || string(got[0].Result) != "true" {
		t.Errorf("message = id %s result %s", got[0].ID, got[0].Result)
	}
	if rest := p.Flush(); len(rest) != 0 {
		t.Errorf("Flush() = %d messages, want none left over", len(rest))
	}
}

func TestSSEParser_MultipleFramesInOneFeed(t *testing.T) {
	p := NewSSEParser(nil)
	stream := "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":1}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":2}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":3}\n\n"

	got := ids(p.Feed([]byte(stream)))
	if strings.Join(got, ",") != "1,2,3" {
		t.Errorf("ids = %v, want [1 2 3]", got)
	}
}

func TestSSEParser_ChunkingInvariance(t *testing.T) {
	stream := ": priming comment\r\n\r\n" +
		"event: message\r\nid: 7\r\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\r\n\r\n" +
		"data: {\"jsonrpc\":\"2.0\",\n" +
		"data: \"method\":\"notifications/progress\"}\n\n" +
		"retry: 1000\rdata:{\"jsonrpc\":\"2.0\",\"id\":\"b\",\"result\":null}\r\r" +
		"data: not json\n\n" +
		"data: [{\"jsonrpc\":\"2.0\",\"id\":3,\"result\":3},{\"jsonrpc\":\"2.0\",\"id\":4,\"result\":4}]\n\n"

	whole := NewSSEParser(nil).Feed([]byte(stream))
	want := summarize(whole)
	if want != "1|notifications/progress|b|3|4" {
		t.Fatalf("whole-stream decode = %q", want)
	}

	for size := 1; size <= len(stream); size++ {
		p := NewSSEParser(nil)
		var got []*Message
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, p.Feed([]byte(stream[i:end]))...)
		}
		got = append(got, p.Flush()...)
		if s := summarize(got); s != want {
			t.Fatalf("chunk size %d: got %q, want %q", size, s, want)
		}
	}
}

func summarize(msgs []*Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Method != "" {
			parts[i] = m.Method
		} else {
			parts[i] = m.ID.String()
		}
	}
	return strings.Join(parts, "|")
}

func TestSSEParser_MalformedPayloadSwallowed(t *testing.T) {
	rec := &recorder{}
	p := NewSSEParser(rec)

	got := p.Feed([]byte("data: {broken\n\ndata: {\"jsonrpc\":\"2.0\",\"id\":5,\"result\":5}\n\n"))
	if len(got) != 1 || got[0].ID.String() != "5" {
		t.Fatalf("got %v, want only id 5", ids(got))
	}
	if rec.count("sse_frame_discarded") != 1 {
		t.Errorf("discard events = %d, want 1", rec.count("sse_frame_discarded"))
	}
}

func TestSSEParser_FramesWithoutData(t *testing.T) {
	rec := &recorder{}
	p := NewSSEParser(rec)

	got := p.Feed([]byte(": keepalive\n\nevent: ping\nid: 3\n\ndata:\n\n"))
	if len(got) != 0 {
		t.Errorf("got %d messages, want 0", len(got))
	}
	if rec.count("sse_frame_discarded") != 0 {
		t.Error("frames without payload should be discarded silently")
	}
}

func TestSSEParser_FlushTrailingFrame(t *testing.T) {
	p := NewSSEParser(nil)
	if got := p.Feed([]byte("data: {\"jsonrpc\":\"2.0\",\"id\":9,\"result\":0}\n")); len(got) != 0 {
		t.Fatalf("unterminated frame emitted early")
	}
	got := p.Flush()
	if len(got) != 1 || got[0].ID.String() != "9" {
		t.Fatalf("Flush() = %v, want id 9", ids(got))
	}
	if got := p.Flush(); len(got) != 0 {
		t.Error("second Flush should be empty")
	}
}

func TestSSEParser_CRLFSplitAcrossChunks(t *testing.T) {
	p := NewSSEParser(nil)
	var got []*Message
	got = append(got, p.Feed([]byte("data: {\"id\":1,\"result\":1}\r"))...)
	got = append(got, p.Feed([]byte("\n\r"))...)
	got = append(got, p.Feed([]byte("\n"))...)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if rest := p.Flush(); len(rest) != 0 {
		t.Errorf("Flush() = %d messages, want none left over", len(rest))
	}
}

func TestSSEParser_ExtraLeadingSpaceTolerated(t *testing.T) {
	p := NewSSEParser(nil)
	got := p.Feed([]byte("data:  {\"id\":\"x\",\"result\":1}\n\n"))
	if len(got) != 1 || got[0].ID.String() != "x" {
		t.Fatalf("got %v", ids(got))
	}
}
