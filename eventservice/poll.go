package eventservice

import (
	"context"
	"io"
	"time"
)

// PollConfig bounds each batch of client writes received by Serve.
type PollConfig struct {
	// MaxSize is the maximum number of writes per batch. A value < 0
	// disables the limit.
	//
	// Defaults to 16, if 0.
	MaxSize int

	// MinSize is the number of writes to wait for, per batch, unless
	// PartialTimeout elapses after the first. A value < 0 starts the
	// PartialTimeout immediately, allowing empty batches.
	//
	// Defaults to 4, if 0.
	MinSize int

	// PartialTimeout is how long to wait for MinSize writes.
	//
	// Defaults to 50ms, if 0.
	PartialTimeout time.Duration
}

func (x PollConfig) resolve() (maxSize, minSize int, partialTimeout time.Duration) {
	maxSize, minSize, partialTimeout = 16, 4, 50*time.Millisecond
	if x.MaxSize != 0 {
		maxSize = x.MaxSize
	}
	if x.MinSize != 0 {
		minSize = x.MinSize
	}
	if x.PartialTimeout != 0 {
		partialTimeout = x.PartialTimeout
	}
	return
}

// serveBatch handles one batch of client writes, returning how many were
// handled. It blocks until MinSize writes arrive, or until PartialTimeout
// elapses (after the first write, unless MinSize < 0), then takes whatever
// else is buffered, up to MaxSize. Once writes is closed and drained,
// io.EOF is returned.
func (s *Service) serveBatch(ctx context.Context, writes <-chan Write) (n int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	maxSize, minSize, partialTimeout := s.poll.resolve()

	var (
		timer   *time.Timer
		expired bool
	)
	startTimer := func() {
		if timer == nil && partialTimeout > 0 {
			timer = time.NewTimer(partialTimeout)
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	if minSize < 0 {
		startTimer()
	}

	for maxSize < 0 || n < maxSize {
		var (
			w  Write
			ok bool
		)
		if !expired && (n < minSize || (n == 0 && timer != nil)) {
			var timeout <-chan time.Time
			if timer != nil {
				timeout = timer.C
			}
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-timeout:
				expired = true
				continue
			case w, ok = <-writes:
			}
		} else {
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case w, ok = <-writes:
			default:
				return n, ctx.Err()
			}
		}
		if !ok {
			return n, io.EOF
		}

		n++
		startTimer()
		if err := s.handle(w); err != nil {
			return n, err
		}
	}

	return n, ctx.Err()
}
