package task

import (
	"errors"
	"fmt"
)

var (
	ErrAborted  = errors.New("task aborted")
	ErrShutdown = errors.New("scheduler shut down")
)

// PanicError is returned by Await when the task panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsPanic reports whether err came from a panicking task.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
