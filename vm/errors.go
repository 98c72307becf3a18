package vm

import (
	"errors"
	"fmt"
)

// Runtime failures. Every error returned by the interpreter wraps one of
// these inside a *RuntimeError.
var (
	ErrStackUnderflow     = errors.New("stack underflow")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrInvalidExponent    = errors.New("invalid exponent")
	ErrUnknownNative      = errors.New("unknown native function")
	ErrOutOfBounds        = errors.New("stack index out of bounds")
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrPositionOutOfRange = errors.New("instruction position out of range")
	ErrUnknownFunction    = errors.New("unknown function")
	ErrStepLimit          = errors.New("step limit exceeded")
	ErrNotRunning         = errors.New("interpreter is not running")
)

// RuntimeError carries the machine state at the moment execution failed.
type RuntimeError struct {
	Position    int
	Offset      int
	Accumulator int64
	Err         error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[%d] [off = %d] [acc = %d] %v", e.Position, e.Offset, e.Accumulator, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
