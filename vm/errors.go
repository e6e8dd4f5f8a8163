package vm

import (
	"errors"
	"fmt"
)

// Error conditions raised by the machine. Every error returned from a run
// unwraps to exactly one of these.
var (
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrArityMismatch  = errors.New("arity mismatch")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidFree    = errors.New("invalid free")
	ErrNoCaller       = errors.New("no caller")
	ErrUnknownFiber   = errors.New("unknown fiber")
	ErrFiberBusy      = errors.New("fiber busy")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrRuntime        = errors.New("runtime error")
)

// ErrHalt is the signal raised by stop (and by kill on a fiber with no
// caller). It ends a run cleanly and is never reported as a failure.
var ErrHalt = errors.New("halt")

// TypeMismatchError reports a parameter or operand whose kind is not in the
// handler's contract. Arg is the parameter index, or -1 for stack operands.
type TypeMismatchError struct {
	Op       string
	Arg      int
	Expected KindSet
	Got      Kind
}

func (e *TypeMismatchError) Error() string {
	if e.Arg >= 0 {
		return fmt.Sprintf("argument %d of %q expected value of type %s, got value of type %s",
			e.Arg, e.Op, e.Expected, e.Got)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: expected value of type %s, got value of type %s", e.Op, e.Expected, e.Got)
	}
	return fmt.Sprintf("expected value of type %s, got value of type %s", e.Expected, e.Got)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// ArityError reports an instruction with the wrong number of parameters.
type ArityError struct {
	Op   string
	Want int
	Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("action %q expected %d arguments, got %d", e.Op, e.Want, e.Got)
}

func (e *ArityError) Unwrap() error { return ErrArityMismatch }

// RuntimeError carries the message of a guest-raised err instruction, or a
// conversion failure.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string {
	return "runtime error: " + e.Message
}

func (e *RuntimeError) Unwrap() error { return ErrRuntime }

// Fault attaches the failing instruction to an error that stopped a run.
type Fault struct {
	Fiber       int
	CodePointer int
	Mnemonic    string
	Err         error
}

func (f *Fault) Error() string {
	if f.Mnemonic == "" {
		return fmt.Sprintf("fiber %d at %d: %v", f.Fiber, f.CodePointer, f.Err)
	}
	return fmt.Sprintf("fiber %d at %d (%s): %v", f.Fiber, f.CodePointer, f.Mnemonic, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// errorf wraps a sentinel with a formatted detail message.
func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
