package domain

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. The worker maps kinds onto terminal
// job statuses and retry decisions; nothing else inspects error text.
type Kind string

const (
	// KindValidation covers bad input: oversized attachments, malformed
	// manifests, illegal repo settings. Never retried.
	KindValidation Kind = "validation"
	// KindTransient covers upstream 5xx and rate-limit responses.
	// Retried with bounded backoff before escalation.
	KindTransient Kind = "transient_upstream"
	// KindAuth covers expired or revoked credentials. Never retried;
	// the user must reconnect.
	KindAuth Kind = "auth"
	// KindPathTraversal marks a manifest entry escaping the workspace.
	KindPathTraversal Kind = "path_traversal"
	// KindIntegrity marks a stored artifact that fails verification.
	KindIntegrity Kind = "integrity"
)

// Error is a classified pipeline error.
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

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Transientf builds a transient upstream error.
func Transientf(format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...)}
}

// Authf builds an auth error.
func Authf(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

// Traversalf builds a path traversal error.
func Traversalf(format string, args ...any) *Error {
	return &Error{Kind: KindPathTraversal, Message: fmt.Sprintf(format, args...)}
}

// Integrityf builds an integrity error.
func Integrityf(format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
