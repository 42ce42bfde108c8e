package device

import (
	"errors"
	"fmt"
)

var (
	// ErrStarted is returned by Start if the runtime was already started.
	ErrStarted = errors.New("device: already started")

	// ErrShutdown is returned by operations on a runtime that was shut down.
	ErrShutdown = errors.New("device: shut down")
)

// PanicCode identifies an unrecoverable device error.
type PanicCode int

const (
	// PanicI2CLockup indicates a bus peripheral stopped responding.
	PanicI2CLockup PanicCode = 10
	// PanicOOM indicates a fiber stack could not be allocated.
	PanicOOM PanicCode = 20
	// PanicHeapError indicates heap or stack corruption.
	PanicHeapError PanicCode = 30
)

func (c PanicCode) String() string {
	switch c {
	case PanicI2CLockup:
		return `I2CLockup`
	case PanicOOM:
		return `OOM`
	case PanicHeapError:
		return `HeapError`
	default:
		return fmt.Sprintf("PanicCode(%d)", int(c))
	}
}

// PanicError is the error passed to the panic handler.
type PanicError struct {
	// Err is the underlying cause, if any.
	Err  error
	Code PanicCode
}

func (e *PanicError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device: panic %d (%s)", int(e.Code), e.Code)
	}
	return fmt.Sprintf("device: panic %d (%s): %v", int(e.Code), e.Code, e.Err)
}

func (e *PanicError) Unwrap() error {
	return e.Err
}
