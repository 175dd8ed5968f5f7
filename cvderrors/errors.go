// Package cvderrors defines the typed error kinds carried through the
// control plane and assembly pipeline. Handlers map a Kind to a response
// status code without string-matching error messages.
package cvderrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error by the recovery/response behavior it demands,
// not by the call site that produced it.
type Kind int

const (
	// KindUnknown is the zero value; mapped to an INTERNAL response status.
	KindUnknown Kind = iota
	// KindPrecondition signals missing environment or wrong state.
	KindPrecondition
	// KindNotFound signals a selector matched nothing, or a file is missing.
	KindNotFound
	// KindAmbiguous signals a selector matched more than one group without a TTY to disambiguate.
	KindAmbiguous
	// KindSubprocess signals an external tool exited non-zero or was signaled.
	KindSubprocess
	// KindInterrupted signals a client hang-up or server shutdown mid-request.
	KindInterrupted
	// KindFilesystem signals a read/write/rename failure.
	KindFilesystem
	// KindInvariant signals an internal invariant violation (duplicate group, lock theft).
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindAmbiguous:
		return "ambiguous"
	case KindSubprocess:
		return "subprocess"
	case KindInterrupted:
		return "interrupted"
	case KindFilesystem:
		return "filesystem"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// kindError wraps a causal error with a Kind so handlers can branch on it.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Cause() error  { return e.err }
func (e *kindError) Unwrap() error { return e.err }

// New builds a Kind-tagged error from a message, capturing a stack trace
// the way github.com/pkg/errors.New does.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, err: errors.New(msg)}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, err: errors.New(fmt.Sprintf(format, args...))}
}

// Wrap attaches a Kind and a context message to an existing error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.Wrap(err, fmt.Sprintf(format, args...))}
}

// GetKind extracts the Kind carried by err, defaulting to KindUnknown when
// err was not constructed through this package.
func GetKind(err error) Kind {
	var ke *kindError
	for err != nil {
		if k, ok := err.(*kindError); ok {
			ke = k
			break
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	if ke == nil {
		return KindUnknown
	}
	return ke.kind
}

// Is reports whether err (or anything in its cause chain) carries kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
