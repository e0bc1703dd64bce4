package transport

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/vinayprograms/mcpbridge/errors"
)

// Session holds the opaque session token a server issues on its first
// response. The first token observed is kept for the session's lifetime.
type Session struct {
	mu sync.RWMutex
	id string
}

// ID returns the session token, or "" if none has been observed.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Observe records the session header from a response. It reports whether
// this call established the session. Later tokens are ignored.
func (s *Session) Observe(h http.Header) bool {
	v := h.Get(SessionHeader)
	if v == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		return false
	}
	s.id = v
	return true
}

// Apply sets the session header on an outbound request, if known.
func (s *Session) Apply(h http.Header) {
	if id := s.ID(); id != "" {
		h.Set(SessionHeader, id)
	}
}

// Terminate asks the server to end the session with a DELETE carrying the
// session header. It is a no-op without a session.
func (s *Session) Terminate(ctx context.Context, client *http.Client, url string, headers map[string]string) error {
	id := s.ID()
	if id == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return errors.Wrap(err, "build terminate request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(SessionHeader, id)
	req.Header.Set(ProtocolVersionHeader, ProtocolVersion)

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "terminate session")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	// 405 means the server does not support client-initiated termination.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMethodNotAllowed {
		return errors.Transport(resp.StatusCode, "")
	}
	return nil
}
