// Package transport implements the client side of the MCP streamable HTTP
// transport for JSON-RPC 2.0.
//
// # Overview
//
// Every outbound message is one HTTP POST that declares it accepts both
// application/json and text/event-stream. The server answers with one of:
//
//   - 202 Accepted and no body (acknowledged notification)
//   - a single JSON document or a JSON array of documents
//   - an event stream whose data frames each decode to a document
//
// The response is decoded once into a tagged body and then iterated the same
// way whatever its shape. Responses settle pending calls through a
// correlation.Table; requests and notifications initiated by the server are
// delivered on Recv.
//
// # Usage
//
//	t := transport.NewStreamable("https://example.com/mcp", transport.DefaultStreamableConfig())
//	if err := t.Start(); err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	result, err := t.Call(ctx, "tools/list", nil)
//
// # Sessions
//
// The first Mcp-Session-Id header a server returns becomes the transport's
// session for its lifetime and is attached to every later request. Close
// sends a DELETE carrying it; failures there are ignored.
//
// # Failure
//
// A non-success status is returned to the caller of that request only, as a
// TRANSPORT error carrying the status and body; 5xx and 429 are retryable. Undecodable event-stream frames are dropped inside the parser. Close
// rejects every pending call with CANCELED.
//
// # Thread Safety
//
// All Streamable methods are safe for concurrent use. An SSEParser is not;
// each response stream gets its own.
package transport
