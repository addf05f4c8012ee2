// Package apierror defines the error-kind taxonomy used across the REST
// surface so every handler maps failures to HTTP status codes the same way,
// instead of repeating per-handler sentinel-to-status chains.
package apierror

import (
	"fmt"
	"net/http"
)

// Kind is a taxonomy of error categories, not a concrete type hierarchy.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindTransaction    Kind = "transaction"
	KindScoring        Kind = "scoring"
	KindDatabase       Kind = "database"
	KindBus            Kind = "bus"
	KindML             Kind = "ml"
	KindRateLimit      Kind = "rate_limit"
)

// Error carries a Kind plus a safe, user-facing message. The underlying
// cause is kept for logging but never serialized.
type Error struct {
	Kind      Kind
	Message   string
	RequestID string
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to an Error without leaking it into Message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// StatusCode maps a Kind to the HTTP status codes in §7. bus and ml never
// reach this path — they are handled by local recovery before a response is
// built.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransaction:
		return http.StatusBadRequest
	case KindScoring, KindDatabase:
		return http.StatusInternalServerError
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Body is the wire shape every error response carries: {error: {code,
// message, request_id}}. Messages never leak stack detail.
type Body struct {
	Error BodyDetail `json:"error"`
}

type BodyDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ToBody renders the response envelope for a given error, falling back to a
// generic internal error for anything not already an *Error.
func ToBody(err error, requestID string) (int, Body) {
	apiErr, ok := err.(*Error)
	if !ok {
		return http.StatusInternalServerError, Body{Error: BodyDetail{
			Code:      string(KindDatabase),
			Message:   "internal error",
			RequestID: requestID,
		}}
	}
	if apiErr.RequestID == "" {
		apiErr.RequestID = requestID
	}
	return apiErr.StatusCode(), Body{Error: BodyDetail{
		Code:      string(apiErr.Kind),
		Message:   apiErr.Message,
		RequestID: apiErr.RequestID,
	}}
}
