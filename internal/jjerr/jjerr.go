// Package jjerr defines the error model shared by every engine component.
//
// Errors carry a machine-readable kind, optional context (the offending
// change ID, path, revset position, ...) and a human-readable suggestion.
// Components wrap causes with fmt.Errorf("...: %w", err) as usual; the
// kind survives wrapping and can be tested with jjerr.IsKind or the
// sentinel helpers below:
//
//	if jjerr.IsKind(err, jjerr.NotFound) {
//	    // unknown change, bookmark, operation, ...
//	}
package jjerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an engine error. Kinds are stable strings so they can
// cross process boundaries (CLI exit codes, log lines) unchanged.
type Kind string

const (
	InvalidArgument      Kind = "INVALID_ARGUMENT"
	NotFound             Kind = "NOT_FOUND"
	AlreadyExists        Kind = "ALREADY_EXISTS"
	Conflict             Kind = "CONFLICT"
	StorageError         Kind = "STORAGE_ERROR"
	ParseError           Kind = "PARSE_ERROR"
	UnsupportedOperation Kind = "UNSUPPORTED_OPERATION"
	ValidationError      Kind = "VALIDATION_ERROR"
	PreHookRejected      Kind = "PRE_HOOK_REJECTED"
)

// String returns the wire representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Error is the structured error returned by engine operations.
type Error struct {
	// Kind is the machine-readable classification.
	Kind Kind

	// Message describes what failed.
	Message string

	// Context carries machine-readable details, e.g. "change_id", "path",
	// "position" for parse errors.
	Context map[string]string

	// Suggestion tells the user what to try next. Optional.
	Suggestion string

	// Err is the wrapped cause, if any.
	Err error
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// With attaches a context key/value pair and returns the error for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Hint attaches a suggestion and returns the error for chaining.
func (e *Error) Hint(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or the empty kind if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err or any error it wraps has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ContextValue returns the context value for key from the first structured
// error in err's chain, or "" if absent.
func ContextValue(err error, key string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Context[key]
	}
	return ""
}
