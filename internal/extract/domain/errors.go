package domain

import (
	"errors"
	"net/http"
)

// Kind classifies failures surfaced to clients
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindDispatchFailed      Kind = "dispatch_failed"
	KindJobFailed           Kind = "job_failed"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

var (
	// ErrInvalidInput is returned for a bad or missing url or image type
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable is returned when the cache or CI API cannot be reached
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrDispatchFailed is returned when the CI provider rejects a workflow dispatch
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrJobFailed is returned when the extraction run concluded without success
	ErrJobFailed = errors.New("job failed")

	// ErrTimeout is returned when a synchronous wait exhausts its attempts
	ErrTimeout = errors.New("timed out waiting for extraction")
)

var kindSentinels = map[Kind]error{
	KindInvalidInput:        ErrInvalidInput,
	KindUpstreamUnavailable: ErrUpstreamUnavailable,
	KindDispatchFailed:      ErrDispatchFailed,
	KindJobFailed:           ErrJobFailed,
	KindTimeout:             ErrTimeout,
}

// Error carries a failure kind plus a short message and optional detail
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// NewError creates a new classified error
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// InvalidInput creates an InvalidInput error
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

// Upstream wraps a transport failure from an external service
func Upstream(service string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: service + " unavailable", Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// HTTPStatus maps an error to the response status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindJobFailed:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
