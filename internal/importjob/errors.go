package importjob

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("import job not found")
	ErrTerminal          = errors.New("import job already finished")
	ErrInvalidTransition = errors.New("invalid import status transition")
	ErrProgressRegressed = errors.New("import progress cannot decrease")
)

// Kind classifies pipeline failures. Item- and asset-level problems never
// become an Error; they degrade the result instead.
type Kind int

const (
	KindInternal   Kind = iota // unexpected failure during extraction or mapping
	KindValidation             // bad request, corrupt archive, missing manifest
	KindAuth                   // caller identity unresolvable
	KindStorage                // package or job record could not be written
	KindParse                  // manifest unparsable or without organizations
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindStorage:
		return "storage"
	case KindParse:
		return "parse"
	default:
		return "internal"
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string // stage or operation, e.g. "validating"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
