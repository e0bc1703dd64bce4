// Package errors provides the structured error taxonomy shared by the
// streamable transport, the correlation table and the command bridge.
//
// # Categories
//
//   - Transient: retry may succeed (timeouts, no executor, 5xx from a peer)
//   - Permanent: retry will not help (4xx, remote JSON-RPC errors, cancellation)
//   - Internal: bugs and recovered panics
//
// # Codes
//
//   - TRANSPORT: non-success HTTP status, with status and body metadata
//   - TIMEOUT: no response within the request deadline
//   - NO_EXECUTOR: the bridge had no connected executor
//   - CANCELED: the owning transport closed or the caller gave up
//   - REMOTE / EXECUTOR: the peer answered with an error
//
// Framing errors never appear here; the SSE parser swallows them.
//
// # Usage
//
//	_, err := t.Call(ctx, "tools/list", nil)
//	if errors.Is(err, errors.ErrCodeTimeout) {
//	    // retry or report
//	}
//
// Errors marshal to JSON so a tool-calling layer can forward them as
// structured failure results.
package errors
