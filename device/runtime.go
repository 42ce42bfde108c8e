package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/go-microdal/fiber"
	"github.com/joeycumines/go-microdal/messagebus"
	"github.com/joeycumines/logiface"
	"golang.org/x/exp/slices"
)

// IdleComponent is background work, serviced by the idle fiber.
type IdleComponent interface {
	// IdleTick performs a unit of work. It must not block.
	IdleTick()
	// IsIdleCallbackNeeded reports whether IdleTick has work to do.
	IsIdleCallbackNeeded() bool
}

// Runtime owns the scheduler, message bus and interrupt controller of a
// device.
type Runtime struct {
	_ [0]func() // prevent comparison

	sched  *fiber.Scheduler
	bus    *messagebus.Bus
	loop   *eventloop.Loop
	logger *logiface.Logger[logiface.Event]

	onPanic    func(err *PanicError)
	tickPeriod time.Duration

	// components is copy on write, read by the idle fiber
	components   atomic.Pointer[[]IdleComponent]
	componentsMu sync.Mutex

	// guards the lifecycle fields below
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	shutdown bool
}

// New initialises a runtime. The calling goroutine becomes the scheduler's
// root fiber, see [fiber.New]. The bus is bound to the scheduler, and is
// the first idle component.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		logger:     cfg.logger,
		onPanic:    cfg.onPanic,
		tickPeriod: cfg.tickPeriod,
	}
	if r.onPanic == nil {
		r.onPanic = defaultPanic
	}

	schedOptions := append(slices.Clone(cfg.schedOptions),
		fiber.WithLogger(r.logger),
		fiber.WithFatalHandler(r.fatal),
		fiber.WithIdleHook(r.systemTasks),
	)
	if r.sched, err = fiber.New(schedOptions...); err != nil {
		return nil, err
	}

	busOptions := append([]messagebus.Option{messagebus.WithLogger(r.logger)}, cfg.busOptions...)
	if r.bus, err = messagebus.New(r.sched, busOptions...); err != nil {
		_ = r.sched.Close()
		return nil, err
	}
	r.sched.BindEvents(r.bus)

	if r.loop, err = eventloop.New(); err != nil {
		_ = r.sched.Close()
		return nil, err
	}

	r.components.Store(&[]IdleComponent{r.bus})

	r.logger.Debug().
		Dur(`tick_period`, r.tickPeriod).
		Log(`device initialised`)

	return r, nil
}

// Scheduler returns the fiber scheduler.
func (r *Runtime) Scheduler() *fiber.Scheduler {
	return r.sched
}

// Bus returns the message bus.
func (r *Runtime) Bus() *messagebus.Bus {
	return r.bus
}

// Start runs the interrupt controller, and the periodic scheduler tick,
// until ctx is cancelled or Shutdown is called. It returns immediately.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return ErrShutdown
	}
	if r.started {
		return ErrStarted
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := r.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Err().
				Err(err).
				Log(`interrupt controller stopped`)
		}
	}()
	go func() {
		defer wg.Done()
		r.tick(ctx)
	}()
	go func() {
		wg.Wait()
		close(r.done)
	}()

	r.logger.Debug().Log(`device started`)

	return nil
}

// tick drives the scheduler clock, as a hardware timer would.
func (r *Runtime) tick(ctx context.Context) {
	ticker := time.NewTicker(r.tickPeriod)
	defer ticker.Stop()
	dt := r.tickPeriod
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Interrupt(func() { r.sched.Tick(dt) }); err != nil {
				return
			}
		}
	}
}

// Interrupt runs fn in interrupt context: on the interrupt controller,
// serialized with the scheduler tick and every other interrupt. Interrupts
// submitted before Start run once started.
func (r *Runtime) Interrupt(fn func()) error {
	r.mu.Lock()
	shutdown := r.shutdown
	r.mu.Unlock()
	if shutdown {
		return ErrShutdown
	}
	return r.loop.Submit(fn)
}

// Shutdown stops the interrupt controller and tick, then closes the
// scheduler. Like [fiber.Scheduler.Close], it must be called from the root
// fiber.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return ErrShutdown
	}
	r.shutdown = true
	started, cancel, done := r.started, r.cancel, r.done
	r.mu.Unlock()

	var errs []error
	if started {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	} else if err := r.loop.Shutdown(ctx); err != nil && !errors.Is(err, eventloop.ErrLoopTerminated) {
		errs = append(errs, err)
	}
	if err := r.sched.Close(); err != nil {
		errs = append(errs, err)
	}

	r.logger.Debug().Log(`device shut down`)

	return errors.Join(errs...)
}

// AddIdleComponent registers c, to be serviced by the idle fiber. Adding a
// component that is already registered has no effect.
func (r *Runtime) AddIdleComponent(c IdleComponent) {
	if c == nil {
		return
	}
	r.componentsMu.Lock()
	defer r.componentsMu.Unlock()
	old := *r.components.Load()
	if slices.Contains(old, c) {
		return
	}
	next := append(slices.Clone(old), c)
	r.components.Store(&next)
}

// RemoveIdleComponent unregisters c, reporting whether it was registered.
func (r *Runtime) RemoveIdleComponent(c IdleComponent) bool {
	r.componentsMu.Lock()
	defer r.componentsMu.Unlock()
	old := *r.components.Load()
	i := slices.Index(old, c)
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(old), i, i+1)
	r.components.Store(&next)
	return true
}

// systemTasks is the scheduler's idle hook.
func (r *Runtime) systemTasks() {
	for _, c := range *r.components.Load() {
		if c.IsIdleCallbackNeeded() {
			c.IdleTick()
		}
	}
}

// Panic reports an unrecoverable error, and calls the panic handler. The
// default handler does not return.
func (r *Runtime) Panic(code PanicCode) {
	r.raise(&PanicError{Code: code})
}

func (r *Runtime) raise(err *PanicError) {
	r.logger.Emerg().
		Int(`code`, int(err.Code)).
		Err(err).
		Log(`device panic`)
	r.onPanic(err)
}

// fatal maps scheduler errors to panic codes.
func (r *Runtime) fatal(err error) {
	code := PanicHeapError
	if errors.Is(err, fiber.ErrOutOfMemory) {
		code = PanicOOM
	}
	r.raise(&PanicError{Code: code, Err: err})
}

func defaultPanic(err *PanicError) {
	panic(err)
}

// Sleep is [fiber.Scheduler.Sleep].
func (r *Runtime) Sleep(d time.Duration) {
	r.sched.Sleep(d)
}

// CreateFiber is [fiber.Scheduler.CreateFiber].
func (r *Runtime) CreateFiber(entry func()) *fiber.Fiber {
	return r.sched.CreateFiber(entry)
}

// Send is [messagebus.Bus.Send].
func (r *Runtime) Send(evt messagebus.Event) {
	r.bus.Send(evt)
}

// Listen is [messagebus.Bus.Listen].
func (r *Runtime) Listen(id, value uint16, cb messagebus.Callback, flags messagebus.Flags) bool {
	return r.bus.Listen(id, value, cb, flags)
}

// Ticks returns the scheduler clock in milliseconds.
func (r *Runtime) Ticks() uint64 {
	return r.sched.Ticks()
}
