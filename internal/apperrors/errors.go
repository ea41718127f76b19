package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and client handling.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthentication   Kind = "authentication"
	KindNotFound         Kind = "resource_not_found"
	KindExternalService  Kind = "external_service"
	KindToken            Kind = "token"
	KindRateLimit        Kind = "rate_limit"
	KindConversation     Kind = "conversation"
	KindBusinessLogic    Kind = "business_logic"
	KindConfiguration    Kind = "configuration"
)

// Error is the application error carried across package boundaries when the
// failure must reach an HTTP response. Internal plumbing keeps using wrapped
// stdlib errors; only boundary-relevant failures get a Kind.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetail attaches a detail field, returning the same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 2)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from an error chain, defaulting to external_service
// for unknown failures reaching a boundary.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindExternalService
}

// HTTPStatus maps a kind to its response code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindConversation, KindBusinessLogic:
		return http.StatusBadRequest
	case KindAuthentication, KindToken:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type envelope struct {
	Error errorBody `json:"error"`
}

// WriteJSON serializes err as {"error":{"code","message","details"}} with the
// mapped status code. Non-Error values are masked as a generic upstream
// failure so internals never leak to clients.
func WriteJSON(w http.ResponseWriter, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = &Error{Kind: KindExternalService, Message: "upstream request failed"}
	}

	w.Header().Set("Content-Type", "application/json")
	if appErr.Kind == KindRateLimit {
		if retry, ok := appErr.Details["retry_after"].(string); ok {
			w.Header().Set("Retry-After", retry)
		}
	}
	w.WriteHeader(HTTPStatus(appErr.Kind))
	_ = json.NewEncoder(w).Encode(envelope{Error: errorBody{
		Code:    string(appErr.Kind),
		Message: appErr.Message,
		Details: appErr.Details,
	}})
}
