package eventservice

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkNumGoroutines returns a func that fails the test if the number of
// goroutines has not returned to the current count, within timeout.
func checkNumGoroutines(timeout time.Duration) func(t *testing.T) {
	before := runtime.NumGoroutine()
	return func(t *testing.T) {
		t.Helper()
		deadline := time.Now().Add(timeout)
		for {
			n := runtime.NumGoroutine()
			if n <= before {
				return
			}
			if time.Now().After(deadline) {
				t.Errorf(`expected at most %d goroutines, got %d`, before, n)
				return
			}
			time.Sleep(time.Millisecond * 10)
		}
	}
}

type recordingNotify struct {
	mu      sync.Mutex
	batches [][]Frame
	ch      chan []Frame
}

func newRecordingNotify() *recordingNotify {
	return &recordingNotify{ch: make(chan []Frame, 64)}
}

func (x *recordingNotify) notify(_ context.Context, frames []Frame) error {
	x.mu.Lock()
	x.batches = append(x.batches, frames)
	x.mu.Unlock()
	x.ch <- frames
	return nil
}

func (x *recordingNotify) next(t *testing.T) []Frame {
	t.Helper()
	select {
	case frames := <-x.ch:
		return frames
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for notification`)
		return nil
	}
}

func TestNewBatcher_panics(t *testing.T) {
	assert.PanicsWithValue(t, `eventservice: nil notify`, func() { newBatcher(1, 0, nil) })
	assert.PanicsWithValue(t, `eventservice: one of maxSize or flushInterval must be specified`, func() {
		newBatcher(0, -1, func(context.Context, []Frame) error { return nil })
	})
}

func TestBatcher_cutsFullBatches(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	rec := newRecordingNotify()
	b := newBatcher(2, -1, rec.notify)
	for i := range 5 {
		require.NoError(t, b.submit(Frame{Type: 1, Reason: uint16(i)}))
	}
	assert.Equal(t, []Frame{{1, 0}, {1, 1}}, rec.next(t))
	assert.Equal(t, []Frame{{1, 2}, {1, 3}}, rec.next(t))

	// the remainder is only sent on shutdown, as there is no flush interval
	select {
	case frames := <-rec.ch:
		t.Fatal(frames)
	case <-time.After(time.Millisecond * 20):
	}
	require.NoError(t, b.shutdown(context.Background()))
	assert.Equal(t, []Frame{{1, 4}}, rec.next(t))
	assert.ErrorIs(t, b.submit(Frame{}), ErrClosed)
}

func TestBatcher_flushInterval(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	rec := newRecordingNotify()
	b := newBatcher(0, time.Millisecond*20, rec.notify)
	defer b.close()

	start := time.Now()
	require.NoError(t, b.submit(Frame{Type: 7, Reason: 1}))
	require.NoError(t, b.submit(Frame{Type: 7, Reason: 2}))
	assert.Equal(t, []Frame{{7, 1}, {7, 2}}, rec.next(t))
	assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*20)

	require.NoError(t, b.submit(Frame{Type: 7, Reason: 3}))
	assert.Equal(t, []Frame{{7, 3}}, rec.next(t))
}

func TestBatcher_submitDoesNotWaitForNotify(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	unblock := make(chan struct{})
	started := make(chan struct{}, 1)
	var (
		mu  sync.Mutex
		got [][]Frame
	)
	b := newBatcher(1, -1, func(ctx context.Context, frames []Frame) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-unblock
		mu.Lock()
		got = append(got, frames)
		mu.Unlock()
		return nil
	})

	require.NoError(t, b.submit(Frame{Type: 1}))
	<-started
	for i := range 10 {
		require.NoError(t, b.submit(Frame{Type: 2, Reason: uint16(i)}))
	}
	close(unblock)
	require.NoError(t, b.shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 11)
	assert.Equal(t, []Frame{{1, 0}}, got[0])
	for i, frames := range got[1:] {
		assert.Equal(t, []Frame{{2, uint16(i)}}, frames, `sent in order`)
	}
}

func TestBatcher_shutdownCtxCancel(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	started := make(chan struct{})
	b := newBatcher(1, -1, func(ctx context.Context, frames []Frame) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, b.submit(Frame{}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()
	assert.ErrorIs(t, b.shutdown(ctx), context.DeadlineExceeded)
	assert.NoError(t, b.shutdown(context.Background()))
}

func TestBatcher_closeCancelsNotify(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	b := newBatcher(1, -1, func(ctx context.Context, frames []Frame) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	require.NoError(t, b.submit(Frame{}))
	<-started
	b.close()
	<-cancelled
	b.close()
	assert.ErrorIs(t, b.submit(Frame{}), ErrClosed)
}
