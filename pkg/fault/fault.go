// Package fault defines the error taxonomy shared by the registry, executor,
// sandbox, security policy and resource manager.
//
// Every error produced by these packages carries a Kind so that callers can
// branch on the class of failure without matching message text:
//
//	if fault.IsKind(err, fault.KindSecurity) {
//		// permission denied or rate limited
//	}
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure
type Kind string

const (
	// KindValidation covers malformed, duplicate or over-capacity definitions,
	// bad arguments and empty handler results
	KindValidation Kind = "validation"

	// KindSecurity covers permission denials, rate limiting and scope/principal mismatches
	KindSecurity Kind = "security"

	// KindResourceExhausted covers memory/CPU ceilings and capacity limits
	KindResourceExhausted Kind = "resource_exhausted"

	// KindRuntime wraps unexpected handler failures
	KindRuntime Kind = "runtime"
)

// Error is a classified error with an optional cause
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error of the same kind with no message,
// which lets the package-level sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Op == "" && t.Err == nil
}

// Sentinels usable with errors.Is
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrSecurity          = &Error{Kind: KindSecurity}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrRuntime           = &Error{Kind: KindRuntime}
)

// Validation creates a validation error
func Validation(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Security creates a security error
func Security(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindSecurity, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ResourceExhausted creates a resource exhaustion error
func ResourceExhausted(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindResourceExhausted, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Runtime wraps cause as a runtime error
func Runtime(op string, cause error) *Error {
	return &Error{Kind: KindRuntime, Op: op, Msg: "handler failed", Err: cause}
}

// Wrap attaches a kind to an arbitrary cause
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors are reported as KindRuntime.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindRuntime
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
