package messagebus

import (
	"errors"
	"fmt"
)

var (
	// ErrNilScheduler is returned by New if no scheduler was provided.
	ErrNilScheduler = errors.New("messagebus: nil scheduler")

	// ErrInvalidMaxDeferred is returned for a negative WithMaxDeferred.
	ErrInvalidMaxDeferred = errors.New("messagebus: invalid max deferred")
)

// PanicError wraps a value recovered from a listener callback.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("messagebus: listener panicked: %v", e.Value)
}

// Unwrap returns the recovered value, if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
