package compiler

import (
	"errors"
	"fmt"
)

// Compile failures. A *CompileError wraps one of these so callers can test
// the kind with errors.Is.
var (
	ErrUndeclaredVariable  = errors.New("undeclared variable")
	ErrRedeclaredVariable  = errors.New("variable already declared in this scope")
	ErrUndefinedFunction   = errors.New("undefined function")
	ErrDuplicateFunction   = errors.New("function already defined")
	ErrArgumentCount       = errors.New("wrong number of arguments")
	ErrMalformedExpression = errors.New("cannot evaluate expression")
	ErrMalformedStatement  = errors.New("malformed statement")
	ErrOutsideFunction     = errors.New("statement outside of a function")
	ErrPopRootScope        = errors.New("tried to pop the root scope")
)

// CompileError reports the 1-based source line where compilation stopped.
type CompileError struct {
	Line int
	Msg  string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("(line %d) %s", e.Line, e.Msg)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
