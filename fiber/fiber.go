package fiber

// State is the scheduling state of a [Fiber].
//
// State machine:
//
//	StatePool → StateRunnable        [CreateFiber, Invoke]
//	StateRunnable → StateRunning     [schedule]
//	StateRunning → StateRunnable     [Yield]
//	StateRunning → StateSleeping     [Sleep]
//	StateRunning → StateWaiting      [WaitForEvent]
//	StateSleeping → StateRunnable    [Tick]
//	StateWaiting → StateRunnable     [WakeEvent]
//	StateRunning → StatePool         [entry returns]
//
// StateRunning is exclusive to the current fiber.
type State uint8

const (
	// StateDetached is a fiber on no queue, e.g. the idle fiber, or a fiber
	// in the middle of a transition.
	StateDetached State = iota
	// StateRunnable is a fiber on the run queue.
	StateRunnable
	// StateRunning is the fiber presently executing.
	StateRunning
	// StateSleeping is a fiber on the sleep queue.
	StateSleeping
	// StateWaiting is a fiber on the wait queue, blocked on an event.
	StateWaiting
	// StatePool is an exited fiber, retained for reuse.
	StatePool
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateRunnable:
		return "Runnable"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateWaiting:
		return "Waiting"
	case StatePool:
		return "Pool"
	default:
		return "Unknown"
	}
}

// queueID identifies which queue, if any, owns a fiber.
type queueID uint8

const (
	queueNone queueID = iota
	queueRun
	queueSleep
	queueWait
	queuePool
)

// fiberFlags track fork-on-block relationships.
type fiberFlags uint8

const (
	// flagFOB marks a child running a function for Invoke, on behalf of a
	// suspended parent, that has not blocked yet.
	flagFOB fiberFlags = 1 << iota
	// flagChild marks a fiber that blocked while in fork-on-block mode, and
	// so became an ordinary fiber.
	flagChild
)

// Fiber is one cooperative task. Fibers are created and owned by a
// [Scheduler]; the exported methods are safe to call from any fiber.
type Fiber struct {
	sched *Scheduler
	ctx   Context
	stack *Stack

	// parent is the fiber suspended in Invoke, while flagFOB is set
	parent *Fiber

	// intrusive links for whichever queue owns the fiber, guarded by irq
	prev, next *Fiber

	// wakeAt is the virtual clock deadline while sleeping
	wakeAt int64

	id        int
	waitID    uint16
	waitValue uint16
	queue     queueID
	flags     fiberFlags
}

// ID returns the fiber's stable index in the scheduler's arena. The root
// fiber (the one that constructed the scheduler) is 0.
func (f *Fiber) ID() int {
	return f.id
}

// Stack returns the stack owned by the fiber, or nil for the root fiber,
// which runs on the stack of the goroutine that created the scheduler.
func (f *Fiber) Stack() *Stack {
	return f.stack
}

// State returns a snapshot of the fiber's scheduling state.
func (f *Fiber) State() State {
	s := f.sched
	s.irq.Disable()
	q := f.queue
	s.irq.Enable()
	if f == s.current {
		return StateRunning
	}
	switch q {
	case queueRun:
		return StateRunnable
	case queueSleep:
		return StateSleeping
	case queueWait:
		return StateWaiting
	case queuePool:
		return StatePool
	default:
		return StateDetached
	}
}

// fiberQueue is an intrusive doubly linked list of fibers. It is only ever
// accessed with interrupts disabled.
type fiberQueue struct {
	head, tail *Fiber
	len        int
	id         queueID
}

// push appends f, which must not be on any queue.
func (q *fiberQueue) push(f *Fiber) {
	f.queue = q.id
	f.next = nil
	f.prev = q.tail
	if q.tail == nil {
		q.head = f
	} else {
		q.tail.next = f
	}
	q.tail = f
	q.len++
}

// remove unlinks f, which must be on q.
func (q *fiberQueue) remove(f *Fiber) {
	if f.prev == nil {
		q.head = f.next
	} else {
		f.prev.next = f.next
	}
	if f.next == nil {
		q.tail = f.prev
	} else {
		f.next.prev = f.prev
	}
	f.prev, f.next = nil, nil
	f.queue = queueNone
	q.len--
}

// pop removes and returns the head, or nil.
func (q *fiberQueue) pop() *Fiber {
	f := q.head
	if f != nil {
		q.remove(f)
	}
	return f
}
