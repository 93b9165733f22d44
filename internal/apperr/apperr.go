package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the stable vocabulary shared with API
// clients and logs. The values are part of the public error envelope.
type Kind string

const (
	KindInvalidInput   Kind = "INVALID_INPUT"
	KindOutOfOrder     Kind = "OUT_OF_ORDER"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindQuotaExceeded  Kind = "QUOTA_EXCEEDED"
	KindStoreTransient Kind = "STORE_TRANSIENT"
	KindStoreConflict  Kind = "STORE_CONFLICT"
	KindStoreFatal     Kind = "STORE_FATAL"
	KindTimeout        Kind = "TIMEOUT"
	KindDegraded       Kind = "DEGRADED"
)

// Error is the service-wide error type. Details is optional structured
// context safe to return to the caller; RetryAfterS is only set for
// RATE_LIMITED errors.
type Error struct {
	Kind        Kind
	Message     string
	Details     map[string]interface{}
	RetryAfterS int
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a key/value pair to the error's Details map.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a kind and message. A nil err
// yields a plain error of the given kind.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// KindOf extracts the Kind from err, unwrapping as needed. Errors that do
// not carry a kind report STORE_FATAL when asked; callers that need to
// distinguish should check Is(err) first.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreFatal
}

// Is reports whether err carries any Kind.
func Is(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AsError returns the *Error inside err, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// InvalidInput reports a schema or semantic validation failure.
func InvalidInput(message string) *Error { return New(KindInvalidInput, message) }

// InvalidInputf is InvalidInput with formatting.
func InvalidInputf(format string, args ...interface{}) *Error {
	return Newf(KindInvalidInput, format, args...)
}

// OutOfOrder reports a timestamp earlier than the device's last_seen.
func OutOfOrder(message string) *Error { return New(KindOutOfOrder, message) }

// NotFound reports a missing or foreign-owned resource.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict reports a duplicate unique identifier or name.
func Conflict(message string) *Error { return New(KindConflict, message) }

// RateLimited reports window exhaustion for the given scope.
func RateLimited(scope string, retryAfterS int) *Error {
	e := New(KindRateLimited, "rate limit exceeded")
	e.RetryAfterS = retryAfterS
	return e.WithDetail("scope", scope).WithDetail("retry_after_s", retryAfterS)
}

// QuotaExceeded reports a tier resource cap.
func QuotaExceeded(resource string, limit int) *Error {
	return Newf(KindQuotaExceeded, "%s quota exceeded", resource).
		WithDetail("resource", resource).
		WithDetail("limit", limit)
}

// Timeout reports an expired deadline.
func Timeout(message string) *Error { return New(KindTimeout, message) }

// Degraded reports a non-fatal fallback, e.g. cache unavailable.
func Degraded(message string) *Error { return New(KindDegraded, message) }
