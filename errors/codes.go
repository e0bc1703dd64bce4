package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: request timeouts, no executor connected yet, 5xx from a peer.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed input, 4xx from a peer, caller cancellation.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes surfaced by the transports and the bridge.
const (
	// Transient errors
	ErrCodeTimeout    ErrorCode = "TIMEOUT"     // No response within the deadline
	ErrCodeNoExecutor ErrorCode = "NO_EXECUTOR" // Bridge has nothing to route to
	ErrCodeNetworkErr ErrorCode = "NETWORK_ERR" // Connection-level failure

	// Permanent errors
	ErrCodeTransport    ErrorCode = "TRANSPORT"     // Non-success status; transient for 5xx and 429
	ErrCodeRemote       ErrorCode = "REMOTE"        // Peer returned a JSON-RPC error object
	ErrCodeExecutor     ErrorCode = "EXECUTOR"      // Executor reported a failed command
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Aborted by close or caller
	ErrCodeClosed       ErrorCode = "CLOSED"        // Used after close
	ErrCodeConflict     ErrorCode = "CONFLICT"      // Identifier already pending
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed arguments or message
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Unknown tool or server

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeNoExecutor, ErrCodeNetworkErr:
		return CategoryTransient

	case ErrCodeTransport, ErrCodeRemote, ErrCodeExecutor, ErrCodeCanceled,
		ErrCodeClosed, ErrCodeConflict, ErrCodeInvalidInput, ErrCodeNotFound:
		return CategoryPermanent

	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "request timed out",
	ErrCodeNoExecutor:   "no executor connected",
	ErrCodeNetworkErr:   "network error",
	ErrCodeTransport:    "transport error",
	ErrCodeRemote:       "remote error",
	ErrCodeExecutor:     "executor error",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeClosed:       "transport closed",
	ErrCodeConflict:     "identifier already pending",
	ErrCodeInvalidInput: "invalid input",
	ErrCodeNotFound:     "not found",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description of the code.
func (c ErrorCode) Description() string {
	if d, ok := codeDescriptions[c]; ok {
		return d
	}
	return "unknown error"
}
