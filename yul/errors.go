package yul

import (
	"errors"
	"fmt"
)

// Error is a lowering failure at a location in the source.
type Error struct {
	Location Location
	Cause    error
}

func (e Error) Error() string {
	return fmt.Sprintf("%v %v", e.Location, e.Cause)
}

func (e Error) Unwrap() error {
	return e.Cause
}

func errorAt(loc Location, err error) error {
	var yerr Error
	if errors.As(err, &yerr) {
		return err
	}
	return Error{Location: loc, Cause: err}
}

type ErrArgumentCount struct {
	Function string
	Expected int
	Found    int
}

func (e ErrArgumentCount) Error() string {
	return fmt.Sprintf("Function `%s` expected %d arguments, found %d", e.Function, e.Expected, e.Found)
}

// ErrUnknownInternalFunction is returned for a verbatim instruction naming no known system function.
type ErrUnknownInternalFunction struct {
	Name string
}

func (e ErrUnknownInternalFunction) Error() string {
	return fmt.Sprintf("found unknown internal function `%s`", e.Name)
}

var (
	ErrUnsupported        = errors.New("instruction is not supported")
	ErrUndeclared         = errors.New("undeclared")
	ErrRedeclared         = errors.New("already declared")
	ErrOutsideLoop        = errors.New("break or continue outside of a loop")
	ErrOutsideFunction    = errors.New("leave outside of a function")
	ErrMissingLiteral     = errors.New("literal argument is missing")
	ErrValueCount         = errors.New("wrong number of values")
	ErrNotDeclared        = errors.New("object code is defined before it is declared")
	ErrCodeTypeMismatched = errors.New("object does not hold this part of the contract")
)
