package fiber

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRQ_raiseCoalesces(t *testing.T) {
	irq := NewIRQ()
	irq.Raise()
	irq.Raise()
	require.NoError(t, irq.WaitForInterrupt(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, irq.WaitForInterrupt(ctx), context.DeadlineExceeded)
}

func TestIRQ_waitWakesOnRaise(t *testing.T) {
	irq := NewIRQ()
	done := make(chan error, 1)
	go func() { done <- irq.WaitForInterrupt(context.Background()) }()
	time.Sleep(5 * time.Millisecond)
	irq.Raise()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal(`wait did not return`)
	}
}

func TestIRQ_criticalSectionExcludes(t *testing.T) {
	irq := NewIRQ()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				irq.Do(func() { counter++ })
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, counter)
}
