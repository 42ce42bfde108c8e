package fiber

import (
	"fmt"
	"sync"
)

// GuardSize is the number of bytes at the low end of every [Stack] reserved
// as a guard band.
const GuardSize = 32

// guardPattern fills the guard band. A fiber whose band no longer holds the
// pattern when it is switched out has overflowed its stack.
const guardPattern byte = 0xA5

// Stack is a fixed-size region owned by one fiber. The low [GuardSize] bytes
// form a guard band, the remainder is available to the fiber via Data.
type Stack struct {
	mem []byte
}

func newStack(size int) *Stack {
	s := &Stack{mem: make([]byte, size)}
	s.resetGuard()
	return s
}

// Size returns the total size of the region, guard band included.
func (s *Stack) Size() int {
	return len(s.mem)
}

// Data returns the usable portion of the region, above the guard band.
func (s *Stack) Data() []byte {
	return s.mem[GuardSize:]
}

// Intact reports whether the guard band still holds its pattern.
func (s *Stack) Intact() bool {
	for _, b := range s.mem[:GuardSize] {
		if b != guardPattern {
			return false
		}
	}
	return true
}

func (s *Stack) guard() []byte {
	return s.mem[:GuardSize]
}

func (s *Stack) resetGuard() {
	g := s.guard()
	for i := range g {
		g[i] = guardPattern
	}
}

// Allocator hands out fiber stacks. Stacks are returned with Free only when
// the scheduler is closed; recycling during normal operation happens through
// the fiber pool.
type Allocator interface {
	Alloc(size int) (*Stack, error)
	Free(stack *Stack)
}

// Heap is an [Allocator] with a fixed byte budget, modelling the constrained
// device heap. It is safe for concurrent use.
type Heap struct {
	mu       sync.Mutex
	capacity int
	used     int
	peak     int
}

// NewHeap returns a Heap that will allocate at most capacity bytes in total.
// A capacity of zero or less is unbounded.
func NewHeap(capacity int) *Heap {
	return &Heap{capacity: capacity}
}

// Alloc reserves size bytes, returning ErrOutOfMemory if the budget would be
// exceeded.
func (h *Heap) Alloc(size int) (*Stack, error) {
	if size <= GuardSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStackSize, size)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.capacity > 0 && h.used+size > h.capacity {
		return nil, fmt.Errorf("%w: requested %d bytes, %d of %d in use", ErrOutOfMemory, size, h.used, h.capacity)
	}
	h.used += size
	if h.used > h.peak {
		h.peak = h.used
	}
	return newStack(size), nil
}

// Free returns the stack's bytes to the budget.
func (h *Heap) Free(stack *Stack) {
	if stack == nil {
		return
	}
	h.mu.Lock()
	h.used -= stack.Size()
	h.mu.Unlock()
	stack.mem = nil
}

// Used returns the bytes currently allocated.
func (h *Heap) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Peak returns the highest value Used has reached.
func (h *Heap) Peak() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}

// Capacity returns the configured budget, or zero or less if unbounded.
func (h *Heap) Capacity() int {
	return h.capacity
}
