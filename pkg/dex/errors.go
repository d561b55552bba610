package dex

import (
	"errors"
	"fmt"
)

var (
	// ErrNotContainer is returned when input does not start with the container magic.
	ErrNotContainer = errors.New("dex: not a class container")

	// ErrMalformedDescriptor is returned for type or member descriptors
	// that do not follow the descriptor grammar.
	ErrMalformedDescriptor = errors.New("dex: malformed descriptor")

	// ErrIndexOutOfRange is returned when an encoded index does not resolve
	// inside its constant pool.
	ErrIndexOutOfRange = errors.New("dex: index out of range")

	// ErrDuplicateClass is returned when a class is added to a builder twice.
	ErrDuplicateClass = errors.New("dex: duplicate class")

	// ErrBadInstruction is returned for code units that do not decode, or
	// instructions whose operands do not fit their format.
	ErrBadInstruction = errors.New("dex: bad instruction")
)

// ClassError ties a structural error to the class it was found in.
type ClassError struct {
	Class string
	Err   error
}

func (e *ClassError) Error() string {
	return fmt.Sprintf("dex: class %s: %v", e.Class, e.Err)
}

func (e *ClassError) Unwrap() error {
	return e.Err
}

// InstructionError locates a code error inside a method.
type InstructionError struct {
	Method string
	Addr   int
	Err    error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("%s @%#x: %v", e.Method, e.Addr, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}
