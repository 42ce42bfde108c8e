package fiber

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// EventAny matches any event id or value in [Scheduler.WaitForEvent].
const EventAny = 0

// EventRegistrar arranges for [Scheduler.WakeEvent] to be called once an
// event matching (id, value) is raised. It is called by
// [Scheduler.WaitForEvent], from the waiting fiber, after that fiber has been
// queued.
type EventRegistrar interface {
	RegisterWake(id, value uint16)
}

// Scheduler is a cooperative fiber scheduler. See the package documentation
// for the threading model.
type Scheduler struct {
	_ [0]func() // prevent comparison

	irq       *IRQ
	platform  Platform
	alloc     Allocator
	logger    *logiface.Logger[logiface.Event]
	limiter   *catrate.Limiter
	onFatal   func(err error)
	idleWait  func()
	idleHook  func()
	registrar EventRegistrar

	// current is only accessed by the running fiber
	current *Fiber
	root    *Fiber
	idle    *Fiber

	// guarded by irq
	runQueue   fiberQueue
	sleepQueue fiberQueue
	waitQueue  fiberQueue
	pool       fiberQueue
	fibers     []*Fiber
	clock      int64
	closed     bool

	stats     counters
	stackSize int
}

// New initialises a scheduler. The calling goroutine becomes the root fiber:
// it is placed on the run queue as the current fiber, and from then on may
// only call into the scheduler while it is the running fiber. The idle fiber
// is created but never queued.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		irq:       NewIRQ(),
		platform:  cfg.platform,
		alloc:     cfg.allocator,
		logger:    cfg.logger,
		limiter:   catrate.NewLimiter(map[time.Duration]int{time.Second: 1, time.Minute: 10}),
		onFatal:   cfg.onFatal,
		idleWait:  cfg.idleWait,
		idleHook:  cfg.idleHook,
		registrar: cfg.registrar,
		stackSize: cfg.stackSize,
	}
	s.runQueue.id = queueRun
	s.sleepQueue.id = queueSleep
	s.waitQueue.id = queueWait
	s.pool.id = queuePool

	if s.onFatal == nil {
		s.onFatal = s.defaultFatal
	}
	if s.idleWait == nil {
		s.idleWait = func() { _ = s.irq.WaitForInterrupt(context.Background()) }
	}

	s.root = &Fiber{sched: s, ctx: s.platform.CurrentContext()}
	s.fibers = append(s.fibers, s.root)
	s.runQueue.push(s.root)
	s.current = s.root

	stack, err := s.alloc.Alloc(s.stackSize)
	if err != nil {
		return nil, fmt.Errorf("fiber: allocating idle fiber: %w", err)
	}
	s.idle = s.newFiber(stack)
	s.idle.ctx.Seed(s.idleTask)

	s.logger.Debug().
		Int(`stack_size`, s.stackSize).
		Log(`scheduler initialised`)

	return s, nil
}

// IRQ returns the interrupt controller guarding the scheduler's queues.
func (s *Scheduler) IRQ() *IRQ {
	return s.irq
}

// Current returns the running fiber.
func (s *Scheduler) Current() *Fiber {
	return s.current
}

// Idle returns the idle fiber.
func (s *Scheduler) Idle() *Fiber {
	return s.idle
}

// BindEvents sets the registrar used by WaitForEvent, replacing any set via
// [WithEventRegistrar].
func (s *Scheduler) BindEvents(registrar EventRegistrar) {
	s.irq.Do(func() { s.registrar = registrar })
}

// Now returns the virtual clock, advanced only by Tick.
func (s *Scheduler) Now() time.Duration {
	s.irq.Disable()
	defer s.irq.Enable()
	return time.Duration(s.clock)
}

// Ticks returns the virtual clock in whole milliseconds.
func (s *Scheduler) Ticks() uint64 {
	return uint64(s.Now() / time.Millisecond)
}

// RunQueueEmpty reports whether no fiber is runnable. Safe to call from any
// goroutine.
func (s *Scheduler) RunQueueEmpty() bool {
	s.irq.Disable()
	defer s.irq.Enable()
	return s.runQueue.head == nil
}

// Tick advances the clock by dt, and moves every sleeper whose deadline has
// passed to the run queue, preserving their relative order. It is safe to
// call from interrupt context, and never blocks beyond the critical section.
func (s *Scheduler) Tick(dt time.Duration) {
	s.irq.Disable()
	s.clock += int64(dt)
	now := s.clock
	for f := s.sleepQueue.head; f != nil; {
		next := f.next
		if now >= f.wakeAt {
			s.sleepQueue.remove(f)
			s.runQueue.push(f)
		}
		f = next
	}
	s.irq.Enable()
	s.irq.Raise()
}

// Sleep deschedules the calling fiber for at least d, measured on the virtual
// clock. There is no upper bound on when it will next run.
//
// Called from a fork-on-block context (see Invoke), the caller is detached
// into its own fiber, and the invoking fiber resumes immediately.
func (s *Scheduler) Sleep(d time.Duration) {
	f := s.current
	if f == s.idle {
		s.misuse(`sleep`)
		return
	}
	s.irq.Disable()
	f.wakeAt = s.clock + int64(d)
	s.dequeue(f)
	s.sleepQueue.push(f)
	s.irq.Enable()
	s.Schedule()
}

// Yield gives other runnable fibers a turn. It is an alias of Schedule.
func (s *Scheduler) Yield() {
	s.Schedule()
}

// Schedule selects the next fiber to run, round robin: the idle fiber if the
// run queue is empty, else the successor of the current fiber if it is
// runnable (wrapping to the head), else the head. No switch is performed if
// the selection is the current fiber.
func (s *Scheduler) Schedule() {
	old := s.current
	if old.flags&flagFOB != 0 {
		s.detach(old)
		return
	}

	s.irq.Disable()
	if s.closed {
		s.irq.Enable()
		if old != s.root {
			s.fatal(ErrClosed, old.id)
		}
		return
	}
	var next *Fiber
	switch {
	case s.runQueue.head == nil:
		next = s.idle
	case old.queue == queueRun && old.next != nil:
		next = old.next
	default:
		next = s.runQueue.head
	}
	s.irq.Enable()

	if next != old {
		s.switchTo(old, next)
	}
}

// CreateFiber spawns a fiber running entry, appending it to the run queue.
// It does not switch to it. Returns nil if entry is nil, or if a stack could
// not be allocated and the fatal handler returned.
func (s *Scheduler) CreateFiber(entry func()) *Fiber {
	return s.CreateFiberWithCompletion(entry, nil)
}

// CreateFiberWithCompletion is CreateFiber, additionally running completion
// (if non-nil) after entry returns, before the fiber is recycled.
func (s *Scheduler) CreateFiberWithCompletion(entry, completion func()) *Fiber {
	if entry == nil {
		return nil
	}
	f := s.getFiber()
	if f == nil {
		return nil
	}
	f.ctx.Seed(s.launch(f, entry, completion))
	s.irq.Do(func() { s.runQueue.push(f) })
	return f
}

// CreateFiberParam is CreateFiberWithCompletion for functions taking a
// parameter, which is passed to both entry and completion.
func (s *Scheduler) CreateFiberParam(entry func(param any), param any, completion func(param any)) *Fiber {
	if entry == nil {
		return nil
	}
	var done func()
	if completion != nil {
		done = func() { completion(param) }
	}
	return s.CreateFiberWithCompletion(func() { entry(param) }, done)
}

// Close stops every suspended fiber and returns their stacks to the
// allocator. It must be called from the root fiber, once the scheduler is no
// longer needed. Fibers other than the root will not run again.
func (s *Scheduler) Close() error {
	if s.current != s.root {
		return fmt.Errorf("fiber: close from fiber %d: must be called from the root fiber", s.current.id)
	}
	var fibers []*Fiber
	s.irq.Do(func() {
		if s.closed {
			return
		}
		s.closed = true
		fibers = s.fibers
		s.runQueue = fiberQueue{id: queueRun}
		s.sleepQueue = fiberQueue{id: queueSleep}
		s.waitQueue = fiberQueue{id: queueWait}
		s.pool = fiberQueue{id: queuePool}
		s.runQueue.push(s.root)
	})
	if fibers == nil {
		return ErrClosed
	}
	for _, f := range fibers {
		if f == s.root {
			continue
		}
		f.ctx.Discard()
		s.alloc.Free(f.stack)
	}
	s.logger.Debug().
		Int(`fibers`, len(fibers)).
		Log(`scheduler closed`)
	return nil
}

// newFiber adds a fiber owning stack to the arena.
func (s *Scheduler) newFiber(stack *Stack) *Fiber {
	f := &Fiber{
		sched: s,
		stack: stack,
		ctx:   s.platform.NewContext(stack),
	}
	s.irq.Do(func() {
		f.id = len(s.fibers)
		s.fibers = append(s.fibers, f)
	})
	return f
}

// getFiber takes a fiber from the pool, or allocates a new one. A failed
// allocation is fatal; nil is returned if the fatal handler returns.
func (s *Scheduler) getFiber() *Fiber {
	var (
		f      *Fiber
		closed bool
	)
	s.irq.Do(func() {
		closed = s.closed
		f = s.pool.pop()
	})
	if closed {
		s.fatal(ErrClosed, -1)
		return nil
	}
	if f != nil {
		s.stats.recycled.Add(1)
		return f
	}

	stack, err := s.alloc.Alloc(s.stackSize)
	if err != nil {
		s.fatal(err, -1)
		return nil
	}
	s.stats.created.Add(1)
	return s.newFiber(stack)
}

// launch wraps the entry of an ordinary fiber.
func (s *Scheduler) launch(f *Fiber, entry, completion func()) func() {
	return func() {
		s.safeExecute(f, entry)
		if completion != nil {
			s.safeExecute(f, completion)
		}
		s.release(f)
	}
}

// release moves an exiting fiber to the pool and schedules away. The fiber's
// context resumes here once it has been seeded again.
func (s *Scheduler) release(f *Fiber) {
	s.irq.Disable()
	s.dequeue(f)
	f.flags = 0
	f.parent = nil
	s.pool.push(f)
	s.irq.Enable()
	s.stats.released.Add(1)
	s.Schedule()
}

// dequeue unlinks f from its queue, if any. Interrupts must be disabled.
func (s *Scheduler) dequeue(f *Fiber) {
	switch f.queue {
	case queueRun:
		s.runQueue.remove(f)
	case queueSleep:
		s.sleepQueue.remove(f)
	case queueWait:
		s.waitQueue.remove(f)
	case queuePool:
		s.pool.remove(f)
	}
}

// switchTo performs the context switch from old (the current fiber) to next.
func (s *Scheduler) switchTo(old, next *Fiber) {
	if old.stack != nil && !old.stack.Intact() {
		s.fatal(ErrStackOverflow, old.id)
		old.stack.resetGuard()
	}
	s.current = next
	s.stats.switches.Add(1)
	old.ctx.SwitchTo(next.ctx)
}

// idleTask is the body of the idle fiber: service background work, wait for
// an interrupt if there is still nothing to run, and reschedule.
func (s *Scheduler) idleTask() {
	for {
		if s.idleHook != nil {
			s.safeExecute(s.idle, s.idleHook)
		}
		if s.RunQueueEmpty() {
			s.idleWait()
		}
		s.Schedule()
	}
}

// safeExecute runs fn, recovering and logging any panic.
func (s *Scheduler) safeExecute(f *Fiber, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(*FatalError); ok {
				panic(err)
			}
			s.stats.panics.Add(1)
			s.logger.Err().
				Err(PanicError{Value: r}).
				Int(`fiber`, f.id).
				Log(`fiber panicked`)
		}
	}()
	fn()
}

func (s *Scheduler) fatal(err error, fiber int) {
	e := &FatalError{Err: err, Fiber: fiber}
	s.logger.Emerg().
		Err(e).
		Log(`fiber: fatal error`)
	s.onFatal(e)
}

func (s *Scheduler) defaultFatal(err error) {
	panic(err)
}

// misuse logs, rate limited, a blocking call made from the idle fiber.
func (s *Scheduler) misuse(op string) {
	if _, ok := s.limiter.Allow(op); !ok {
		return
	}
	s.logger.Warning().
		Str(`op`, op).
		Log(`blocking call from the idle fiber ignored`)
}
