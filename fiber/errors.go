package fiber

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is reported when a fiber stack cannot be allocated.
	ErrOutOfMemory = errors.New("fiber: out of memory")

	// ErrStackOverflow is reported when the guard band of a fiber stack has
	// been overwritten.
	ErrStackOverflow = errors.New("fiber: stack overflow")

	// ErrInvalidStackSize is returned by [New] when the configured stack size
	// cannot hold the guard band.
	ErrInvalidStackSize = errors.New("fiber: invalid stack size")

	// ErrClosed is reported when the scheduler is used after [Scheduler.Close].
	ErrClosed = errors.New("fiber: scheduler closed")
)

// FatalError wraps an unrecoverable scheduler condition. It is passed to the
// fatal handler (see [WithFatalHandler]) and, by default, used as the panic
// value.
type FatalError struct {
	// Err is the underlying cause, one of the sentinel errors of this package.
	Err error
	// Fiber is the arena index of the fiber involved, or -1.
	Fiber int
}

func (e *FatalError) Error() string {
	if e.Fiber < 0 {
		return fmt.Sprintf("fiber: fatal: %v", e.Err)
	}
	return fmt.Sprintf("fiber: fatal: fiber %d: %v", e.Fiber, e.Err)
}

// Unwrap returns the underlying cause, for use with [errors.Is].
func (e *FatalError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking fiber body.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("fiber: entry panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
