// Package fiber implements a cooperative, non-preemptive fiber scheduler for
// a single logical thread of control.
//
// A [Scheduler] owns a run queue, a sleep queue, a wait queue and a pool of
// recycled fibers, plus one idle fiber that is selected only when nothing
// else is runnable. Exactly one fiber executes at any instant; a fiber gives
// up the processor only at well-defined points ([Scheduler.Sleep],
// [Scheduler.WaitForEvent], [Scheduler.Yield], or returning from its entry
// function).
//
// Interrupt context is modelled by any goroutine that is not a fiber. Such
// goroutines may call [Scheduler.Tick] and [Scheduler.WakeEvent], which touch
// the shared queues only inside the [IRQ] critical section. Everything else
// must be called from the currently running fiber.
//
// Context switching is isolated behind [Platform]. The default
// [GoroutinePlatform] parks one goroutine per fiber context and passes a
// baton between them, so that the scheduling algorithm never depends on how
// a switch is performed.
//
// Fibers are never freed. When an entry function returns, its fiber moves to
// the pool and is reused by the next [Scheduler.CreateFiber] or
// [Scheduler.Invoke], bounding memory at the high-water mark of concurrently
// live fibers.
package fiber
