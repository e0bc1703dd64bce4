// Package bridge connects a command issuer to executor runtimes over a local
// WebSocket.
//
// # Overview
//
// Executors dial the bridge (an http.Handler, usually mounted at /executor)
// and stay connected. The issuer calls Issue; the bridge assigns a fresh
// identifier, sends
//
//	{"id": "...", "command": "click", "params": {...}}
//
// to the first-registered executor and waits for
//
//	{"id": "...", "result": ...}   or   {"id": "...", "error": "..."}
//
// Replies are matched purely by identifier through a correlation.Table.
//
// # Failure
//
//   - No executor connected: NO_EXECUTOR, immediately, with nothing registered
//   - No reply within CommandTimeout: TIMEOUT
//   - Executor reported failure: EXECUTOR with its message
//   - Bridge closed: CANCELED
//
// An executor that disconnects mid-command is not replaced for that command;
// a retry could repeat a non-idempotent action. The command times out.
//
// # Executor side
//
// Runtime is the other end: Dial the bridge, then Serve a Handler. Commands
// run concurrently and trace context travels in the envelope.
package bridge
