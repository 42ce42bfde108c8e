package fiber

import (
	"sync/atomic"
)

// Stats is a snapshot of scheduler counters, see [Scheduler.Stats].
type Stats struct {
	// Fibers is the number of fibers in the arena, including the root and
	// idle fibers. It only grows: exited fibers are pooled, never freed.
	Fibers int
	// Runnable, Sleeping, Waiting and Pooled are current queue lengths.
	Runnable int
	Sleeping int
	Waiting  int
	Pooled   int
	// Created counts fibers allocated fresh, Recycled those taken from the
	// pool, and Released those returned to it.
	Created  uint64
	Recycled uint64
	Released uint64
	// Switches counts context switches.
	Switches uint64
	// InlineInvokes counts Invoke calls that completed without blocking,
	// Forks those that blocked and were detached as fibers.
	InlineInvokes uint64
	Forks         uint64
	// Panics counts fiber bodies that panicked.
	Panics uint64
}

type counters struct {
	created  atomic.Uint64
	recycled atomic.Uint64
	released atomic.Uint64
	switches atomic.Uint64
	inline   atomic.Uint64
	forks    atomic.Uint64
	panics   atomic.Uint64
}

// Stats returns a snapshot of the scheduler's counters. It is safe to call
// from any goroutine.
func (s *Scheduler) Stats() Stats {
	var st Stats
	s.irq.Do(func() {
		st.Fibers = len(s.fibers)
		st.Runnable = s.runQueue.len
		st.Sleeping = s.sleepQueue.len
		st.Waiting = s.waitQueue.len
		st.Pooled = s.pool.len
	})
	st.Created = s.stats.created.Load()
	st.Recycled = s.stats.recycled.Load()
	st.Released = s.stats.released.Load()
	st.Switches = s.stats.switches.Load()
	st.InlineInvokes = s.stats.inline.Load()
	st.Forks = s.stats.forks.Load()
	st.Panics = s.stats.panics.Load()
	return st
}
