// Package toolerr defines the error taxonomy shared by the codec, the tool
// registry, the dispatcher and the execution engine.
//
// Every error carries a machine-readable Kind plus a human-readable message.
// Callers match kinds with errors.Is against the sentinel values:
//
//	if errors.Is(err, toolerr.ErrProtectedTool) { ... }
package toolerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind string

const (
	// Codec
	KindMalformedIdentifier Kind = "MalformedIdentifier"
	KindUnknownNamespace    Kind = "UnknownNamespace"

	// Registry
	KindPermissionDenied Kind = "PermissionDenied"
	KindProtectedTool    Kind = "ProtectedTool"
	KindVersionConflict  Kind = "VersionConflict"
	KindNotFound         Kind = "NotFound"

	// Dispatcher
	KindMissingParameter Kind = "MissingParameter"
	KindUnknownBuiltin   Kind = "UnknownBuiltin"
	KindInvalidArguments Kind = "InvalidArguments"

	// Execution
	KindScriptError       Kind = "ScriptError"
	KindEngineBusy        Kind = "EngineBusy"
	KindEngineUnavailable Kind = "EngineUnavailable"

	// KindInternal is reported for errors that did not originate in this taxonomy.
	KindInternal Kind = "Internal"
)

// Sentinel errors, one per kind.
var (
	ErrMalformedIdentifier = &sentinel{KindMalformedIdentifier}
	ErrUnknownNamespace    = &sentinel{KindUnknownNamespace}
	ErrPermissionDenied    = &sentinel{KindPermissionDenied}
	ErrProtectedTool       = &sentinel{KindProtectedTool}
	ErrVersionConflict     = &sentinel{KindVersionConflict}
	ErrNotFound            = &sentinel{KindNotFound}
	ErrMissingParameter    = &sentinel{KindMissingParameter}
	ErrUnknownBuiltin      = &sentinel{KindUnknownBuiltin}
	ErrInvalidArguments    = &sentinel{KindInvalidArguments}
	ErrScriptError         = &sentinel{KindScriptError}
	ErrEngineBusy          = &sentinel{KindEngineBusy}
	ErrEngineUnavailable   = &sentinel{KindEngineUnavailable}
)

type sentinel struct {
	kind Kind
}

func (s *sentinel) Error() string {
	return string(s.kind)
}

// Error is the concrete error type returned by this module's core packages.
type Error struct {
	Kind    Kind
	Message string

	// Param names the offending parameter for MissingParameter errors.
	Param string

	// Also lists additional kinds that hold for the same failure, e.g. a
	// protected-tool mutation attempted without privilege.
	Also []Kind

	// Err is the underlying cause, if any.
	Err error
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// MissingParameter reports a required parameter that was not supplied.
func MissingParameter(name string) *Error {
	return &Error{
		Kind:    KindMissingParameter,
		Message: fmt.Sprintf("missing required parameter: %s", name),
		Param:   name,
	}
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind and for every kind listed in e.Also.
func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	if !ok {
		return false
	}
	if s.kind == e.Kind {
		return true
	}
	for _, k := range e.Also {
		if k == s.kind {
			return true
		}
	}
	return false
}

// KindOf returns the kind of err, or KindInternal when err is not part of
// the taxonomy. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind
	}
	return KindInternal
}
