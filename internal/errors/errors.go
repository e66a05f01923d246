package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type returned by every service in amanctx.
// Messages are safe to log; callers must not put secrets in Message or Details.
type Error struct {
	// Kind is the recovery class (NotFound, Infrastructure, ...).
	Kind Kind

	// Code is the stable error code (e.g., "ERR_404_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates the operation can be retried with backoff.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code so that errors.Is(err, &Error{Code: ...}) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates an Error whose kind and retryability derive from code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Kind:      kindFromCode(code),
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error, reusing its message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotFound reports a lookup against a known-missing key.
func NotFound(format string, args ...any) *Error {
	return Newf(ErrCodeNotFound, format, args...)
}

// InvalidArgument reports a validation failure at a service boundary.
func InvalidArgument(format string, args ...any) *Error {
	return Newf(ErrCodeInvalidInput, format, args...)
}

// Configuration reports a rejected or missing configuration value.
func Configuration(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// Infrastructure wraps a cache, filesystem or RPC failure.
func Infrastructure(message string, cause error) *Error {
	return New(ErrCodeIO, message, cause)
}

// Embedding wraps a non-retryable embedding provider failure.
func Embedding(message string, cause error) *Error {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// VectorDb wraps a vector store rejection.
func VectorDb(message string, cause error) *Error {
	return New(ErrCodeVectorDb, message, cause)
}

// Database wraps a relational executor error.
func Database(message string, cause error) *Error {
	return New(ErrCodeDatabase, message, cause)
}

// Internal reports a programmer error or violated invariant.
func Internal(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// Decode reports a row field read with the wrong type.
func Decode(format string, args ...any) *Error {
	return Newf(ErrCodeDecode, format, args...)
}

// Unavailable reports a capability the backend does not expose.
func Unavailable(format string, args ...any) *Error {
	return Newf(ErrCodeUnavailable, format, args...)
}

// Cancelled reports cooperative cancellation of a background operation.
func Cancelled(message string, cause error) *Error {
	return New(ErrCodeCancelled, message, cause)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for foreign errors. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound is shorthand for IsKind(err, KindNotFound).
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsRetryable checks whether any *Error in the chain is retryable.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// GetCode extracts the code of the first *Error in the chain.
func GetCode(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
