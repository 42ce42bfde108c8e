package eventservice

import (
	"context"
	"sync"
	"time"
)

// notifyFunc sends a batch of frames to the client.
type notifyFunc func(ctx context.Context, frames []Frame) error

// batcher groups forwarded frames into notifications. Batches are cut once
// full, or once the first frame has waited flushInterval, then sent one at a
// time, in order. Submitting never waits on a notification.
type batcher struct {
	// betteralign:ignore

	notify        notifyFunc
	maxSize       int
	flushInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	stopped       chan struct{}
	stopOnce      sync.Once
	frameCh       chan Frame
}

func newBatcher(maxSize int, flushInterval time.Duration, notify notifyFunc) *batcher {
	if notify == nil {
		panic(`eventservice: nil notify`)
	}
	if maxSize <= 0 && flushInterval <= 0 {
		panic(`eventservice: one of maxSize or flushInterval must be specified`)
	}
	x := &batcher{
		notify:        notify,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		frameCh:       make(chan Frame),
	}
	x.ctx, x.cancel = context.WithCancel(context.Background())
	go x.run()
	return x
}

// submit adds f to the pending batch, failing with ErrClosed once stopped.
func (x *batcher) submit(f Frame) error {
	if x.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case <-x.ctx.Done():
		return ErrClosed
	case <-x.stopped:
		return ErrClosed
	case x.frameCh <- f:
		return nil
	}
}

// shutdown stops accepting frames, then waits for every batch to be sent.
// If ctx ends first, the in-flight notification is cancelled, and the
// remaining batches discarded.
func (x *batcher) shutdown(ctx context.Context) (err error) {
	x.stop()
	select {
	case <-ctx.Done():
		if x.ctx.Err() == nil {
			err = ctx.Err()
		}
		x.cancel()
		<-x.done
	case <-x.done:
	}
	return err
}

// close discards pending batches, and cancels the in-flight notification.
func (x *batcher) close() {
	x.cancel()
	<-x.done
}

func (x *batcher) stop() {
	x.stopOnce.Do(func() {
		close(x.stopped)
	})
}

func (x *batcher) run() {
	defer close(x.done)
	defer x.cancel()

	readyCh := make(chan []Frame)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for frames := range readyCh {
			_ = x.notify(x.ctx, frames)
		}
	}()
	defer func() {
		close(readyCh)
		<-workerDone
	}()

	var (
		pending []Frame
		ready   [][]Frame
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerCh = nil, nil
		}
	}
	defer stopTimer()
	cut := func() {
		stopTimer()
		if len(pending) != 0 {
			ready = append(ready, pending)
			pending = nil
		}
	}

	stopped := x.stopped
	for {
		var (
			frameCh <-chan Frame
			sendCh  chan<- []Frame
			next    []Frame
		)
		if stopped != nil {
			frameCh = x.frameCh
		} else if len(ready) == 0 {
			// stopped, and everything has been handed to the worker
			return
		}
		if len(ready) != 0 {
			sendCh, next = readyCh, ready[0]
		}

		select {
		case <-x.ctx.Done():
			return

		case <-stopped:
			stopped = nil
			cut()

		case f := <-frameCh:
			pending = append(pending, f)
			if x.maxSize > 0 && len(pending) >= x.maxSize {
				cut()
			} else if x.flushInterval > 0 && len(pending) == 1 {
				timer = time.NewTimer(x.flushInterval)
				timerCh = timer.C
			}

		case <-timerCh:
			timer, timerCh = nil, nil
			cut()

		case sendCh <- next:
			ready[0] = nil
			ready = ready[1:]
		}
	}
}
