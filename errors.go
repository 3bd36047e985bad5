package judgewire

import (
	"errors"
	"fmt"
)

// Kind classifies protocol failures.
type Kind uint32

const (
	KindGeneral Kind = iota
	KindMalformedHeader
	KindBadMagic
	KindIntegrityFailure
	KindAuthFailure
	KindPasswordMismatch
	KindUnknownCommand
	KindOversizedLength
)

var kindNames = [...]string{
	KindGeneral:          "general error",
	KindMalformedHeader:  "malformed header",
	KindBadMagic:         "bad magic",
	KindIntegrityFailure: "integrity failure",
	KindAuthFailure:      "authentication failure",
	KindPasswordMismatch: "password mismatch",
	KindUnknownCommand:   "unknown command",
	KindOversizedLength:  "oversized length",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Fatal reports whether the connection can no longer be trusted to be in sync
// and must be closed by its owner.
func (k Kind) Fatal() bool {
	switch k {
	case KindMalformedHeader, KindBadMagic, KindIntegrityFailure, KindOversizedLength:
		return true
	}
	return false
}

// Error is a structured protocol error. It never carries key material or plaintext.
type Error struct {
	Kind Kind
	Op   string // short context, e.g. "read body"
	Err  error  // optional underlying error
}

func (e *Error) Error() string {
	s := "judgewire: " + e.Kind.String()
	if e.Op != "" {
		s += ": " + e.Op
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrAuthFailure) works
// regardless of context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrGeneral          = &Error{Kind: KindGeneral}
	ErrMalformedHeader  = &Error{Kind: KindMalformedHeader}
	ErrBadMagic         = &Error{Kind: KindBadMagic}
	ErrIntegrityFailure = &Error{Kind: KindIntegrityFailure}
	ErrAuthFailure      = &Error{Kind: KindAuthFailure}
	ErrPasswordMismatch = &Error{Kind: KindPasswordMismatch}
	ErrUnknownCommand   = &Error{Kind: KindUnknownCommand}
	ErrOversizedLength  = &Error{Kind: KindOversizedLength}
)

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a protocol error, or KindGeneral for anything else.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindGeneral
}
