package transport

import (
	"bytes"

	"github.com/vinayprograms/mcpbridge/logging"
)

// SSEParser turns an append-only Server-Sent Events byte stream into decoded
// messages. It buffers partial frames between Feed calls, so one parser must
// be owned by exactly one stream.
//
// Only data lines matter. Event, id and retry fields and comment lines are
// ignored, so peers that omit the event type are handled the same as peers
// that send "event: message".
type SSEParser struct {
	buf     []byte
	pending bool // last chunk ended in '\r'
	obs     logging.Observer
}

// NewSSEParser creates a parser. obs receives a debug event for each frame
// that carries data but does not decode; it may be nil.
func NewSSEParser(obs logging.Observer) *SSEParser {
	return &SSEParser{obs: logging.OrDiscard(obs)}
}

// Feed appends chunk and returns every message completed by it, in order.
func (p *SSEParser) Feed(chunk []byte) []*Message {
	p.buf = append(p.buf, p.normalize(chunk)...)

	var out []*Message
	for {
		i := bytes.Index(p.buf, []byte("\n\n"))
		if i < 0 {
			break
		}
		frame := p.buf[:i]
		out = append(out, p.decodeFrame(frame)...)
		p.buf = p.buf[i+2:]
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Flush decodes a trailing frame left unterminated at end of stream.
func (p *SSEParser) Flush() []*Message {
	if p.pending {
		p.buf = append(p.buf, '\n')
		p.pending = false
	}
	frame := bytes.TrimRight(p.buf, "\n")
	p.buf = nil
	if len(frame) == 0 {
		return nil
	}
	return p.decodeFrame(frame)
}

// normalize rewrites CRLF and lone CR to LF. A chunk ending in CR is held
// back because the next chunk may start with the matching LF.
func (p *SSEParser) normalize(chunk []byte) []byte {
	out := make([]byte, 0, len(chunk)+1)
	if p.pending {
		out = append(out, '\n')
		p.pending = false
		if len(chunk) > 0 && chunk[0] == '\n' {
			chunk = chunk[1:]
		}
	}
	for i := 0; i < len(chunk); i++ {
		c := chunk[i]
		if c != '\r' {
			out = append(out, c)
			continue
		}
		if i == len(chunk)-1 {
			p.pending = true
			break
		}
		out = append(out, '\n')
		if chunk[i+1] == '\n' {
			i++
		}
	}
	return out
}

func (p *SSEParser) decodeFrame(frame []byte) []*Message {
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		v := line[len("data:"):]
		if len(v) > 0 && v[0] == ' ' {
			v = v[1:]
		}
		data = append(data, v)
	}
	if len(data) == 0 {
		return nil
	}

	payload := bytes.Join(data, []byte("\n"))
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	msgs, err := DecodeMessages(payload)
	if err != nil {
		p.obs.Debug("sse_frame_discarded", logging.Fields{
			"bytes": len(payload),
			"error": err.Error(),
		})
		return nil
	}
	return msgs
}
