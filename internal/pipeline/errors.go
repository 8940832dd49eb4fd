package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the pipeline step that failed.
type ErrorKind string

const (
	KindArgMismatch ErrorKind = "arg_mismatch"
	KindParse       ErrorKind = "parse"
	KindRegion      ErrorKind = "region"
	KindValidation  ErrorKind = "validation"
	KindBody        ErrorKind = "body"
)

// Error is the one error an invocation returns. The wrapped error is the
// step's own error (*source.ParseError, *region.Error, *validate.ValidationError,
// *ArgError or whatever the body returned).
type Error struct {
	Kind  ErrorKind
	Op    string
	Err   error
	Stack string // set when the body panicked
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the pipeline error kind of err, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// ArgError reports a wrongly shaped argument list.
type ArgError struct {
	Name    string
	Message string
}

func (e *ArgError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("argument %s: %s", e.Name, e.Message)
}

func argErrorf(name, format string, args ...interface{}) *ArgError {
	return &ArgError{Name: name, Message: fmt.Sprintf(format, args...)}
}
