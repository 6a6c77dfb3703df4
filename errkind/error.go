package errkind

import (
	"errors"
	"fmt"
)

// Error wraps a Kind, a human-readable message, and an optional underlying
// platform error (the native crypto/tls or crypto/x509 failure that caused
// it), for callers that want the native diagnostic alongside the kind.
type Error struct {
	kind   Kind
	msg    string
	parent error
}

// New builds an Error of the given kind with msg as its message. If msg is
// empty, the kind's registered message is used.
func New(kind Kind, msg string) Error {
	if msg == "" {
		msg = kind.String()
	}
	return Error{kind: kind, msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a parent platform error (e.g. a crypto/tls failure) to an
// Error of the given kind.
func Wrap(kind Kind, parent error, msg string) Error {
	e := New(kind, msg)
	e.parent = parent
	return e
}

func (e Error) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.parent)
	}
	return e.msg
}

// Kind returns the error-kind category.
func (e Error) Kind() Kind {
	return e.kind
}

// Unwrap exposes the wrapped platform error, if any, to errors.Is/As.
func (e Error) Unwrap() error {
	return e.parent
}

// Is reports whether err (or something it wraps) is an Error of kind k,
// so callers can write errkind.Is(err, errkind.NotConnected). Only the
// outermost Error found in the chain is compared.
func Is(err error, k Kind) bool {
	var e Error
	if errors.As(err, &e) {
		return e.kind == k
	}
	return false
}
