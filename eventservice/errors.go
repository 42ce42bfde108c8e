package eventservice

import (
	"errors"
)

var (
	// ErrNilBus is returned by New if no bus is provided.
	ErrNilBus = errors.New("eventservice: nil bus")

	// ErrNilLink is returned by New if no link is provided.
	ErrNilLink = errors.New("eventservice: nil link")

	// ErrPartialFrame indicates data that was not a whole number of frames.
	ErrPartialFrame = errors.New("eventservice: partial frame")

	// ErrClosed is returned by operations on a closed Service.
	ErrClosed = errors.New("eventservice: closed")

	// ErrInvalidBatchSize is returned by New for a negative batch size.
	ErrInvalidBatchSize = errors.New("eventservice: invalid batch size")
)
