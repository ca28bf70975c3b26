// Package errs defines the error taxonomy shared by the registration engine,
// the update orchestrator and the HTTP edge. Every failed precondition in the
// service surfaces as an *Error carrying a Kind; the edge maps kinds to HTTP
// status codes. Errors support errors.Is/As and wrap underlying causes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of failure. Kinds are stable API: handlers,
// clients and tests match on them rather than on message text.
type Kind string

const (
	// KindUnauthorized means no authenticated actor was supplied.
	KindUnauthorized Kind = "unauthorized"
	// KindForbidden means the actor is authenticated but lacks permission.
	KindForbidden Kind = "forbidden"
	// KindNotFound means an event, role, registration or user did not resolve.
	KindNotFound Kind = "not_found"
	// KindInvalidState means the event lifecycle forbids the operation.
	KindInvalidState Kind = "invalid_state"
	// KindDuplicate means a registration already exists for (event, user, role).
	KindDuplicate Kind = "duplicate"
	// KindCapacityFull means the target role is at or above maxParticipants.
	KindCapacityFull Kind = "capacity_full"
	// KindQuotaExceeded means the user holds the maximum number of roles for
	// the event under their authorization level.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindRoleHasRegistrants means a role with active registrations would be
	// deleted without forceDeleteRegistrations.
	KindRoleHasRegistrants Kind = "role_has_registrants"
	// KindCapacityBelowUsage means maxParticipants would drop below the
	// current registration count.
	KindCapacityBelowUsage Kind = "capacity_below_usage"
	// KindConflict means the proposed time span overlaps another event.
	KindConflict Kind = "conflict"
	// KindUnavailable means lock acquisition timed out; clients should retry.
	KindUnavailable Kind = "unavailable"
	// KindValidation means malformed input: bad ids, missing required fields,
	// format rule violations.
	KindValidation Kind = "validation"
	// KindLocked means the account is locked. Used by the auth edge only.
	KindLocked Kind = "locked"
)

// Error is the concrete error type produced by the service core.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Message is the human-readable summary.
	Message string
	// Details carries structured context such as conflicting event ids or
	// the offending (programId, userId) pair. May be nil.
	Details map[string]any
	// cause is the wrapped underlying error, if any.
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is treats two *Error values with the same Kind as equivalent so callers can
// compare against kind sentinels built with New.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e != nil && e.Kind == te.Kind
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails returns a copy of e with the given structured details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.Details = details
	return &out
}

// Convenience constructors, one per kind the core raises.

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func Duplicate(format string, args ...any) *Error {
	return New(KindDuplicate, format, args...)
}

func CapacityFull(format string, args ...any) *Error {
	return New(KindCapacityFull, format, args...)
}

func QuotaExceeded(format string, args ...any) *Error {
	return New(KindQuotaExceeded, format, args...)
}

func RoleHasRegistrants(format string, args ...any) *Error {
	return New(KindRoleHasRegistrants, format, args...)
}

func CapacityBelowUsage(format string, args ...any) *Error {
	return New(KindCapacityBelowUsage, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return New(KindUnavailable, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// KindOf returns the Kind of err when it is (or wraps) an *Error, or the
// empty Kind otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailsOf returns the structured details of err when present.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// HTTPStatus maps err to the HTTP status code the edge responds with.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInvalidState:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicate, KindCapacityFull, KindQuotaExceeded,
		KindRoleHasRegistrants, KindCapacityBelowUsage, KindConflict:
		return http.StatusConflict
	case KindLocked:
		return http.StatusLocked
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
