package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindExtraction     ErrorKind = "extraction_error"
	KindEmbedding      ErrorKind = "embedding_error"
	KindStore          ErrorKind = "store_error"
	KindNotFound       ErrorKind = "not_found"
	KindGeneration     ErrorKind = "generation_error"
	KindConfig         ErrorKind = "config_error"
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Error carries a kind so the HTTP layer can map failures without string matching.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind ErrorKind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
