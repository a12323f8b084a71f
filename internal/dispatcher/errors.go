package dispatcher

import (
	"errors"
	"fmt"
)

// ErrValidation marks malformed commands or arguments.
var ErrValidation = errors.New("invalid command")

// ValidationError carries the usage hint shown to the user.
type ValidationError struct {
	Usage string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: usage %s", ErrValidation, e.Usage)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// DependencyError reports a failed store or sink call.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func dependency(op string, err error) error {
	return &DependencyError{Op: op, Err: err}
}
