// SPDX-License-Identifier: MIT

// Package apierr defines the error kinds shared by every HTTP surface and
// their translation into JSON error envelopes.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error categories the services surface to clients.
// Each kind maps one-to-one onto an HTTP status code.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindConflict
	KindPayloadTooLarge
	KindUnsupportedMediaType
	KindTooManyRequests
	KindServiceUnavailable
	KindGatewayTimeout
	KindBadGateway
	KindInternal
)

// Error is a client-visible error with a kind, a public message and optional
// validation details. The wrapped cause, if any, stays server-side.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	case KindBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a server-side cause to a client-visible message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches validation details to the error.
func (e *Error) WithDetails(details []string) *Error {
	e.Details = details
	return e
}

// Convenience constructors for the common kinds.
func BadRequest(message string) *Error           { return New(KindBadRequest, message) }
func Unauthorized(message string) *Error         { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error            { return New(KindForbidden, message) }
func NotFound(message string) *Error             { return New(KindNotFound, message) }
func MethodNotAllowed(message string) *Error     { return New(KindMethodNotAllowed, message) }
func PayloadTooLarge(message string) *Error      { return New(KindPayloadTooLarge, message) }
func UnsupportedMediaType(message string) *Error { return New(KindUnsupportedMediaType, message) }
func TooManyRequests(message string) *Error      { return New(KindTooManyRequests, message) }
func ServiceUnavailable(message string) *Error   { return New(KindServiceUnavailable, message) }
func GatewayTimeout(message string) *Error       { return New(KindGatewayTimeout, message) }
func BadGateway(message string) *Error           { return New(KindBadGateway, message) }

// Internal coerces an unexpected error into the fixed internal envelope.
// The original error is retained for server-side logs only.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "Internal server error", cause: cause}
}

// envelope is the wire shape of an error response.
type envelope struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// WriteJSON renders the error as its JSON envelope on w. Error responses are
// never cacheable.
func WriteJSON(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(envelope{Error: apiErr.Message, Details: apiErr.Details})
}

// From extracts an *Error from err, coercing unknown errors to internal.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}
