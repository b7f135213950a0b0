// Package streamerr defines the error kinds surfaced at the HTTP boundary.
package streamerr

import (
	"errors"
	"net/http"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindInvalidURL       Kind = "invalid_url"
	KindInvalidRequest   Kind = "invalid_request"
	KindAuthRequired     Kind = "auth_required"
	KindTimeout          Kind = "timeout"
	KindUnsupportedCodec Kind = "unsupported_codec"
	KindConnectionLimit  Kind = "connection_limit"
	KindRateLimited      Kind = "rate_limit_exceeded"
	KindUnreachable      Kind = "unreachable"
	KindSessionNotFound  Kind = "session_not_found"
	KindSegmentNotFound  Kind = "segment_not_found"
	KindProcessFailure   Kind = "process_failure"
	KindInternal         Kind = "internal_error"
)

var statusByKind = map[Kind]int{
	KindInvalidURL:       http.StatusBadRequest,
	KindInvalidRequest:   http.StatusBadRequest,
	KindAuthRequired:     http.StatusUnauthorized,
	KindSessionNotFound:  http.StatusNotFound,
	KindSegmentNotFound:  http.StatusNotFound,
	KindTimeout:          http.StatusRequestTimeout,
	KindUnsupportedCodec: http.StatusUnsupportedMediaType,
	KindConnectionLimit:  http.StatusTooManyRequests,
	KindRateLimited:      http.StatusTooManyRequests,
	KindProcessFailure:   http.StatusInternalServerError,
	KindInternal:         http.StatusInternalServerError,
	KindUnreachable:      http.StatusServiceUnavailable,
}

// HTTPStatus returns the transport status for kind. Unknown kinds map to 500.
func HTTPStatus(kind Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error carries a Kind, a human-readable message safe to return to callers,
// optional structured details, and an optional wrapped cause that is only
// ever logged.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, streamerr.New(streamerr.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithDetail returns e with key set in its details map.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// As returns err as an *Error. Errors of any other type are replaced by a
// generic internal error so their text never reaches a caller.
func As(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return Wrap(KindInternal, "Internal server error. Please try again.", err)
}
