// Package scriberr defines the structured error taxonomy shared by every
// Scribe subsystem. Each error carries a Kind used for propagation policy,
// an optional machine-readable Code, and structured fields that tool
// responses surface to the caller.
package scriberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and response shaping.
type Kind string

const (
	KindParameterValidation Kind = "parameter_validation"
	KindSecurityViolation   Kind = "security_violation"
	KindPermissionDenied    Kind = "permission_denied"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindMetadataMissing     Kind = "metadata_missing"
	KindLockTimeout         Kind = "lock_timeout"
	KindVerificationFailed  Kind = "verification_failed"
	KindSessionExpired      Kind = "session_expired"
	KindInternal            Kind = "internal"
)

// Machine-readable codes for errors that tools match on.
const (
	CodeAnchorNotFound        = "STRUCTURED_EDIT_ANCHOR_NOT_FOUND"
	CodeAnchorAmbiguous       = "STRUCTURED_EDIT_ANCHOR_AMBIGUOUS"
	CodeCreateDocMissing      = "CREATE_DOC_MISSING_CONTENT"
	CodeHashMismatch          = "HASH_MISMATCH"
	CodeVersionConflict       = "VERSION_CONFLICT"
	CodeNoProjectConfigured   = "NO_PROJECT_CONFIGURED"
	CodeSessionLeaseExpired   = "SESSION_LEASE_EXPIRED"
	CodeMissingStreamMetadata = "MISSING_STREAM_METADATA"
)

// Error is the structured error returned across module boundaries.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Suggestion string
	Fields     map[string]any
	cause      error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithSuggestion attaches a caller-facing suggestion and returns the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithField attaches one structured field and returns the error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithCause records the underlying error for unwrap chains.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewCode creates an error with a machine-readable code.
func NewCode(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a missing or malformed argument.
func Validation(field, format string, args ...any) *Error {
	return New(KindParameterValidation, format, args...).WithField("field", field)
}

// Security reports a sandbox refusal.
func Security(format string, args ...any) *Error {
	return New(KindSecurityViolation, format, args...)
}

// Permission reports a per-repo permission gate refusal.
func Permission(operation string) *Error {
	return New(KindPermissionDenied, "operation %q is disabled for this repository", operation).
		WithField("operation", operation)
}

// NotFound reports an absent project, session, document, or row.
func NotFound(what, name string) *Error {
	return New(KindNotFound, "%s not found: %s", what, name).WithField(what, name)
}

// Conflict reports an optimistic concurrency failure.
func Conflict(format string, args ...any) *Error {
	return NewCode(KindConflict, CodeVersionConflict, format, args...)
}

// MetadataMissing reports absent required metadata keys for a log stream.
func MetadataMissing(stream string, missing []string) *Error {
	return NewCode(KindMetadataMissing, CodeMissingStreamMetadata,
		"Missing metadata for log entry: %s", joinKeys(missing)).
		WithField("stream", stream).
		WithField("missing_keys", missing)
}

// LockTimeout reports an exhausted file-lock retry budget.
func LockTimeout(path string) *Error {
	return New(KindLockTimeout, "could not acquire file lock: %s", path).WithField("path", path)
}

// Verification reports a post-write hash mismatch after rollback.
func Verification(path string) *Error {
	return New(KindVerificationFailed, "post-write verification failed, content restored: %s", path).
		WithField("path", path)
}

// SessionExpired reports an invalid session lease.
func SessionExpired(sessionID string) *Error {
	return NewCode(KindSessionExpired, CodeSessionLeaseExpired,
		"session lease is no longer valid: %s", sessionID).
		WithField("session_id", sessionID)
}

// Internal wraps an uncategorized failure; the router logs it with the
// execution ID and returns an opaque response.
func Internal(err error, format string, args ...any) *Error {
	return New(KindInternal, format, args...).WithCause(err)
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// CodeOf returns the machine code of err, or "".
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// As unwraps err into *Error when possible.
func As(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}

// IsConflict reports whether err is a conflict-kind error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound reports whether err is a not-found-kind error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}
