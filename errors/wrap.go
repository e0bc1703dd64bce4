package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// An existing *Error keeps its code and metadata; context errors map to
// TIMEOUT and CANCELED; net.Error maps to NETWORK_ERR; anything else is INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var be *Error
	if errors.As(err, &be) {
		wrapped := &Error{
			code:      be.code,
			category:  be.category,
			message:   message,
			cause:     err,
			metadata:  be.Metadata(),
			retryable: be.retryable,
			timestamp: be.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return New(ErrCodeNetworkErr, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsBridgeError attempts to extract a BridgeError from an error chain.
// Returns nil if none is found.
func AsBridgeError(err error) BridgeError {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return nil
}

// Is checks if the outermost *Error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.code == code
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable()
	}
	return false
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not an *Error.
func Code(err error) ErrorCode {
	var be *Error
	if errors.As(err, &be) {
		return be.code
	}
	return ""
}

// GetMetadata extracts metadata from an error.
// Returns nil if err is not an *Error.
func GetMetadata(err error) map[string]string {
	var be *Error
	if errors.As(err, &be) {
		return be.Metadata()
	}
	return nil
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
