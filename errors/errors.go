package errors

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Metadata keys set by the typed constructors.
const (
	MetaStatus    = "status"
	MetaBody      = "body"
	MetaID        = "id"
	MetaTimeout   = "timeout"
	MetaRPCCode   = "rpc_code"
	MetaCommand   = "command"
	MetaExecutor  = "executor"
	maxBodyLength = 2048
)

// BridgeError is the interface for all structured errors surfaced by the
// transports and the command bridge.
type BridgeError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of BridgeError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on category
	timestamp time.Time
}

var (
	_ BridgeError      = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Status returns the HTTP status recorded on a transport error, or 0.
func (e *Error) Status() int {
	n, _ := strconv.Atoi(e.metadata[MetaStatus])
	return n
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Transport creates a TRANSPORT error for a non-success HTTP status. 5xx and
// 429 are transient; every other status is permanent.
func Transport(status int, body string, opts ...Option) *Error {
	if len(body) > maxBodyLength {
		body = body[:maxBodyLength] + "..."
	}
	category := CategoryPermanent
	if status >= 500 || status == 429 {
		category = CategoryTransient
	}
	opts = append([]Option{
		WithCategory(category),
		WithMetadata(MetaStatus, strconv.Itoa(status)),
		WithMetadata(MetaBody, body),
	}, opts...)
	return New(ErrCodeTransport, fmt.Sprintf("unexpected status %d: %s", status, body), opts...)
}

// Timeout creates a timeout error for a request identifier.
func Timeout(id string, after time.Duration, opts ...Option) *Error {
	opts = append([]Option{
		WithMetadata(MetaID, id),
		WithMetadata(MetaTimeout, after.String()),
	}, opts...)
	return New(ErrCodeTimeout, fmt.Sprintf("request %s timed out after %s", id, after), opts...)
}

// NoExecutor creates the error returned when the bridge has nothing to route to.
func NoExecutor(opts ...Option) *Error {
	return FromCode(ErrCodeNoExecutor, opts...)
}

// Canceled creates a cancellation error.
func Canceled(message string, opts ...Option) *Error {
	return New(ErrCodeCanceled, message, opts...)
}

// Closed creates an error for use after close.
func Closed(message string, opts ...Option) *Error {
	return New(ErrCodeClosed, message, opts...)
}

// Remote creates an error from a JSON-RPC error object returned by a peer.
func Remote(rpcCode int, message string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata(MetaRPCCode, strconv.Itoa(rpcCode))}, opts...)
	return New(ErrCodeRemote, fmt.Sprintf("rpc error %d: %s", rpcCode, message), opts...)
}

// Executor creates an error for a command that the executor reported as failed.
func Executor(command, message string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata(MetaCommand, command)}, opts...)
	return New(ErrCodeExecutor, message, opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// Conflict creates a conflict error.
func Conflict(message string, opts ...Option) *Error {
	return New(ErrCodeConflict, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
