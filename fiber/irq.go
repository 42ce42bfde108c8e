package fiber

import (
	"context"
	"sync"
)

// IRQ models the interrupt mask of a single core. Disable and Enable bracket
// a critical section: every mutation of state shared with interrupt context
// happens between them. Critical sections are kept to pointer relinking only,
// never callbacks.
//
// Raise and WaitForInterrupt model a pending interrupt line, and the "wait
// for interrupt" instruction used by the idle fiber.
//
// The zero value is not ready for use, see [NewIRQ].
type IRQ struct {
	mu      sync.Mutex
	pending chan struct{}
}

// NewIRQ returns a new, enabled IRQ with nothing pending.
func NewIRQ() *IRQ {
	return &IRQ{pending: make(chan struct{}, 1)}
}

// Disable enters the critical section. It must not be called recursively.
func (x *IRQ) Disable() {
	x.mu.Lock()
}

// Enable leaves the critical section.
func (x *IRQ) Enable() {
	x.mu.Unlock()
}

// Do runs fn inside the critical section.
func (x *IRQ) Do(fn func()) {
	x.Disable()
	defer x.Enable()
	fn()
}

// Raise marks an interrupt as pending, waking any WaitForInterrupt. It never
// blocks, and multiple raises before a wait coalesce into one.
func (x *IRQ) Raise() {
	select {
	case x.pending <- struct{}{}:
	default:
	}
}

// WaitForInterrupt blocks until an interrupt is pending (consuming it), or
// ctx is done, in which case the context error is returned.
func (x *IRQ) WaitForInterrupt(ctx context.Context) error {
	select {
	case <-x.pending:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
