// Package failure defines the error taxonomy shared by the authoring packages.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide how to surface it.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindUploadRejected Kind = "upload_rejected"
	KindPersistence    Kind = "persistence"
	KindNotAvailable   Kind = "not_available"
	KindNotFound       Kind = "not_found"
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrUploadRejected = &Error{Kind: KindUploadRejected}
	ErrPersistence    = &Error{Kind: KindPersistence}
	ErrNotAvailable   = &Error{Kind: KindNotAvailable}
	ErrNotFound       = &Error{Kind: KindNotFound}
)

// Error is a classified failure. Fields lists the offending inputs for
// validation failures (e.g. the missing step fields).
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrPersistence)
// works regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(op, message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message, Fields: fields}
}

// UploadRejected reports a file the policy refuses. Fields names the failed
// check ("size" or "contentType") when there is one.
func UploadRejected(op, message string, fields ...string) *Error {
	return &Error{Kind: KindUploadRejected, Op: op, Message: message, Fields: fields}
}

func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Message: "persistence failed", Err: err}
}

func NotAvailable(op, message string) *Error {
	return &Error{Kind: KindNotAvailable, Op: op, Message: message}
}

func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// FieldsOf returns the offending fields recorded on a validation failure.
func FieldsOf(err error) []string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Fields
	}
	return nil
}
