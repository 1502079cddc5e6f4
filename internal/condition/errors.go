package condition

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax reports a token sequence outside the condition grammar.
	ErrSyntax = errors.New("syntax error")
	// ErrUnknownIdentifier reports a variable that is not allowlisted.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrTypeMismatch reports a comparison between incompatible kinds.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrFrameKind is returned by Eval when a frame variable holds a value of
	// the wrong kind.
	ErrFrameKind = errors.New("frame value has wrong kind")
)

// Error describes why a condition was rejected.
type Error struct {
	Pos int
	Msg string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at position %d: %s", e.Err, e.Pos, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func syntaxError(pos int, msg string) *Error {
	return &Error{Pos: pos, Msg: msg, Err: ErrSyntax}
}
