// Package fault defines the error taxonomy shared by every pipeline stage.
//
// Each stage reports failures as a *Error carrying a Kind. Callers branch on
// the kind with KindOf or Is rather than on concrete types, so errors from the
// LLM layer (which keeps its own typed errors) participate by implementing
// Kinder.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// Unknown is reported for errors that carry no kind.
	Unknown Kind = "Unknown"

	// Timeout means a bounded-time wrapper gave up waiting.
	Timeout Kind = "Timeout"

	// UpstreamUnavailable is a transport-level failure. Retryable.
	UpstreamUnavailable Kind = "UpstreamUnavailable"

	// UpstreamTimeout means an upstream deadline or poll budget ran out.
	UpstreamTimeout Kind = "UpstreamTimeout"

	// UpstreamProcessingFailed means the service reported a terminal error.
	UpstreamProcessingFailed Kind = "UpstreamProcessingFailed"

	// UpstreamEmptyResponse is a successful response with nothing usable in it.
	UpstreamEmptyResponse Kind = "UpstreamEmptyResponse"

	// UpstreamProtocol is a response that does not match the expected contract.
	UpstreamProtocol Kind = "UpstreamProtocol"

	// PreconditionFailed means a stage was invoked without its precondition.
	PreconditionFailed Kind = "PreconditionFailed"

	// MissingConfiguration means a required credential or connection is absent.
	MissingConfiguration Kind = "MissingConfiguration"
)

// Error is a classified failure. Op names the operation that failed
// (e.g. "extraction.submit").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Kinder is implemented by errors that know their own kind.
type Kinder interface {
	Kind() Kind
}

// New returns a classified error with a formatted cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Kind
		case Kinder:
			return e.Kind()
		}
		err = errors.Unwrap(err)
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
