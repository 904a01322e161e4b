package types

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether to absorb or surface them
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindResponseDecode
	KindProcessing
	KindProviderConnection
	KindCacheFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindResponseDecode:
		return "response decode error"
	case KindProcessing:
		return "processing error"
	case KindProviderConnection:
		return "provider connection error"
	case KindCacheFailure:
		return "cache failure"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is; an *Error matches the sentinel of its kind.
var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrResponseDecode     = &Error{Kind: KindResponseDecode}
	ErrProcessing         = &Error{Kind: KindProcessing}
	ErrProviderConnection = &Error{Kind: KindProviderConnection}
	ErrCacheFailure       = &Error{Kind: KindCacheFailure}
)

// Error is a classified failure. Text carries the offending payload for decode errors.
type Error struct {
	Kind Kind
	Op   string
	Text string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a classified error with a formatted cause
func NewError(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapError classifies an existing error; nil stays nil
func WrapError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
