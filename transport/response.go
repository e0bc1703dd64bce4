package transport

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/elnormous/contenttype"

	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/logging"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const (
	defaultMaxErrorBody = 64 * 1024
	maxDocumentSize     = 16 * 1024 * 1024
	streamChunkSize     = 4096
)

// bodyKind discriminates the shapes a POST response can take.
type bodyKind int

const (
	bodyEmpty bodyKind = iota
	bodyDocuments
	bodyStream
)

// responseBody is a POST response decoded once into one of three shapes.
// Callers iterate it with each and never branch on the raw response.
type responseBody struct {
	kind     bodyKind
	messages []*Message
	stream   io.ReadCloser
}

// decodeResponse classifies resp. For a stream the body is handed over and
// closed by each; every other path closes it before returning.
func decodeResponse(resp *http.Response, maxErrBody int64) (*responseBody, error) {
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		drain(resp.Body)
		return &responseBody{kind: bodyEmpty}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if maxErrBody <= 0 {
			maxErrBody = defaultMaxErrorBody
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		drain(resp.Body)
		return nil, errors.Transport(resp.StatusCode, string(body))
	}

	ctype := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	switch {
	case ctype.Matches(eventStreamMediaType):
		return &responseBody{kind: bodyStream, stream: resp.Body}, nil

	case ctype.Matches(jsonMediaType):
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		drain(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "read response body")
		}
		msgs, err := DecodeMessages(data)
		if err != nil {
			return nil, errors.New(errors.ErrCodeTransport, "malformed JSON response", errors.WithCause(err))
		}
		if len(msgs) == 0 {
			return &responseBody{kind: bodyEmpty}, nil
		}
		return &responseBody{kind: bodyDocuments, messages: msgs}, nil

	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1))
		drain(resp.Body)
		if len(data) == 0 {
			return &responseBody{kind: bodyEmpty}, nil
		}
		return nil, errors.New(errors.ErrCodeTransport,
			"unsupported response content type "+resp.Header.Get("Content-Type"),
			errors.WithMetadata(errors.MetaStatus, strconv.Itoa(resp.StatusCode)))
	}
}

// each hands every message in the body to deliver, in arrival order. For a
// stream a fresh parser is used and reading stops at EOF or when ctx ends.
func (b *responseBody) each(ctx context.Context, obs logging.Observer, deliver func(*Message)) error {
	switch b.kind {
	case bodyDocuments:
		for _, m := range b.messages {
			deliver(m)
		}
		return nil

	case bodyStream:
		defer b.stream.Close()
		parser := NewSSEParser(obs)
		buf := make([]byte, streamChunkSize)
		for {
			n, err := b.stream.Read(buf)
			if n > 0 {
				for _, m := range parser.Feed(buf[:n]) {
					deliver(m)
				}
			}
			if err == io.EOF {
				for _, m := range parser.Flush() {
					deliver(m)
				}
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return errors.Wrap(ctx.Err(), "stream aborted")
				}
				return errors.Wrap(err, "read event stream")
			}
		}

	default:
		return nil
	}
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}
