package command

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand    = errors.New("command: unknown command")
	ErrArgumentMismatch  = errors.New("command: argument mismatch")
	ErrHandlerExecution  = errors.New("command: handler execution failed")
	ErrCommandExists     = errors.New("command: id already registered")
	ErrInvalidDescriptor = errors.New("command: invalid descriptor")
	ErrRegistrySealed    = errors.New("command: registry sealed")
	ErrPoolClosed        = errors.New("command: worker pool closed")
)

// HandlerError wraps a failure raised while a handler ran.
type HandlerError struct {
	ID       int
	Name     string
	External bool
	Err      error
}

func (e *HandlerError) Error() string {
	origin := "internal"
	if e.External {
		origin = "external"
	}
	return fmt.Sprintf("command %d (%s) failed [%s]: %v", e.ID, e.Name, origin, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerExecution, e.Err}
}

// ExternalError marks a failure that came from an external collaborator,
// such as a subprocess exiting non-zero.
type ExternalError struct {
	Err error
}

func (e *ExternalError) Error() string {
	return "external: " + e.Err.Error()
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// External wraps err so the dispatcher reports it with an external origin.
func External(err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Err: err}
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func errPanic(v any) error {
	return panicError{value: v}
}
