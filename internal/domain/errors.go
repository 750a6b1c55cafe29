package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into the stable taxonomy callers may branch on.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthRequired: the request carried no identity context.
	KindAuthRequired
	// KindPermissionDenied: the identity's role is not in the required set.
	KindPermissionDenied
	// KindNotFound: the target entity does not exist in the caller's agency.
	KindNotFound
	// KindConflict: duplicate key or concurrent-update loss.
	KindConflict
	// KindValidation: malformed input, e.g. a status outside its enum.
	KindValidation
	// KindPersistence: storage unavailable, or a mandatory audit/activity
	// write failed after the primary entity write.
	KindPersistence
)

// Error is a classified failure with a caller-safe message. Internal detail
// stays in the wrapped error and is only ever logged.
type Error struct {
	Kind    Kind
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

// AuthRequired reports a request with no identity context.
func AuthRequired(message string) *Error {
	return &Error{Kind: KindAuthRequired, Message: message}
}

// PermissionDenied reports an authenticated caller lacking the required role.
func PermissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

// NotFound reports a missing entity.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Conflict reports a duplicate key or a lost concurrent update.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Validation reports malformed input.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Persistence wraps a storage failure. The wrapped error carries the detail;
// the message is what callers see.
func Persistence(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PublicMessage returns the caller-safe message for an error chain, falling
// back to a generic message for unclassified failures.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
