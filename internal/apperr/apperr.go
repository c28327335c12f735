// Package apperr defines the typed failure kinds surfaced by the core
// operations. Callers branch on the machine-checkable kind and subject
// instead of string matching; unexpected lower-level faults are wrapped
// as Internal so they never leak details to clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// KindNotFound means the entity does not exist or is not visible to
	// the caller. View-permission failures fold into NotFound so existence
	// is never revealed to unauthorized callers.
	KindNotFound Kind = iota
	// KindForbidden means the entity is visible but the actor lacks the
	// specific capability.
	KindForbidden
	// KindInvalidArgument means structurally present but semantically
	// invalid input.
	KindInvalidArgument
	// KindConflict means an invariant violation the caller could have
	// avoided by re-reading state.
	KindConflict
	// KindInternal wraps unexpected faults.
	KindInternal
)

// String returns the wire code for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to an HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Subject names the entity a failure is about.
type Subject string

const (
	SubjectUser    Subject = "user"
	SubjectServer  Subject = "server"
	SubjectChannel Subject = "channel"
	SubjectMessage Subject = "message"
	SubjectRole    Subject = "role"
	SubjectTags    Subject = "tags"
)

// Error is a typed operation failure.
type Error struct {
	Kind    Kind
	Subject Subject
	Msg     string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Subject)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subject, e.Msg)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the machine-checkable code, e.g. "not_found:channel".
func (e *Error) Code() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.Subject)
}

// NotFound builds a NotFound error for the given subject.
func NotFound(subject Subject, msg string) *Error {
	return &Error{Kind: KindNotFound, Subject: subject, Msg: msg}
}

// Forbidden builds a Forbidden error for the given subject.
func Forbidden(subject Subject, msg string) *Error {
	return &Error{Kind: KindForbidden, Subject: subject, Msg: msg}
}

// InvalidArgument builds an InvalidArgument error for the given subject.
func InvalidArgument(subject Subject, msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Subject: subject, Msg: msg}
}

// Conflict builds a Conflict error for the given subject.
func Conflict(subject Subject, msg string) *Error {
	return &Error{Kind: KindConflict, Subject: subject, Msg: msg}
}

// Internal wraps an unexpected fault. The cause is preserved for logs but
// never serialized to clients.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Subject: "internal", Msg: "internal error", cause: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// Is reports whether err is an *Error with the given kind and subject.
func Is(err error, kind Kind, subject Subject) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind && ae.Subject == subject
}
