// Package apierrors defines the error taxonomy shared across OpenGoat's
// components so that the HTTP facade can map any internal error to the
// correct status code without each handler re-deriving it.
package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the taxonomy buckets from the design
// (validation, authorization, not-found, conflict, provider failure,
// internal). HttpFacade maps Kind to an HTTP status code.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindUnauthenticated Kind = "unauthenticated"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindProviderFailure Kind = "provider_failure"
	KindInternal        Kind = "internal"
)

// Error is a typed error carrying a Kind, a stable Code used in log lines
// and the error envelope, and a human-readable Message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation builds a KindValidation error, e.g. for a bad status enum or a
// missing blocked/pending reason.
func Validation(code, message string) *Error { return newErr(KindValidation, code, message) }

// Authorization builds a KindAuthorization error, e.g. a cross-tree task
// mutation rejected by AuthzResolver.
func Authorization(code, message string) *Error { return newErr(KindAuthorization, code, message) }

// Unauthenticated builds a KindUnauthenticated error: no valid session
// where one is required. Always carries code "AUTH_REQUIRED" (spec §4.12:
// "401 with code: AUTH_REQUIRED triggers the client to prompt for
// sign-in"), so AuthGate doesn't need to know the wire code itself.
func Unauthenticated(message string) *Error {
	return newErr(KindUnauthenticated, "AUTH_REQUIRED", message)
}

// NotFound builds a KindNotFound error for a missing agent/session/task.
func NotFound(code, message string) *Error { return newErr(KindNotFound, code, message) }

// Conflict builds a KindConflict error, e.g. session lock contention after
// retry, or a duplicate agent id.
func Conflict(code, message string) *Error { return newErr(KindConflict, code, message) }

// ProviderFailure builds a KindProviderFailure error for adapter-level
// failures that are not simply a non-zero exit code (missing executable,
// malformed provider config).
func ProviderFailure(code, message string, cause error) *Error {
	e := newErr(KindProviderFailure, code, message)
	e.Err = cause
	return e
}

// Internal wraps an unexpected error (I/O, DB corruption) with a stable
// code for logging.
func Internal(code string, cause error) *Error {
	e := newErr(KindInternal, code, "internal error")
	e.Err = cause
	return e
}

// HTTPStatus maps a Kind to the status code the design assigns it.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return 400
	case KindAuthorization:
		return 403
	case KindUnauthenticated:
		return 401
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindProviderFailure:
		return 502
	default:
		return 500
	}
}

// envelope is the on-wire shape of an error response (spec §4.12:
// "{error: string, code?: string}"), shared by every HTTP entrypoint
// (HttpFacade handlers and AuthGate's own middleware rejections).
type envelope struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes err to w as the standard error envelope, deriving the
// status code from its Kind when err is (or wraps) an *Error, and falling
// back to 500 internal for anything else.
func WriteJSON(w http.ResponseWriter, err error) {
	var apiErr *Error
	status := http.StatusInternalServerError
	env := envelope{Error: "internal error"}
	if errors.As(err, &apiErr) {
		status = apiErr.Kind.HTTPStatus()
		env.Error = apiErr.Message
		env.Code = apiErr.Code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
