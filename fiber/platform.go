package fiber

import (
	"runtime"
	"sync"
)

// Platform creates the saved execution contexts that fibers switch between.
// Implementations are called only by the [Scheduler], from the running fiber.
type Platform interface {
	// NewContext returns a fresh context for a fiber owning stack. It does not
	// run anything until it has been seeded and switched to.
	NewContext(stack *Stack) Context

	// CurrentContext wraps the calling thread of control, so that it can be
	// switched away from and later resumed.
	CurrentContext() Context
}

// Context is the saved state of one fiber.
type Context interface {
	// Seed installs entry as the function the context runs the next time it
	// is resumed from a fresh or recycled state.
	Seed(entry func())

	// SwitchTo suspends the calling context and resumes next. It returns when
	// some other context switches back. It must not be called concurrently.
	SwitchTo(next Context)

	// Discard permanently stops a suspended context. It must not be called on
	// the running context.
	Discard()
}

// GoroutinePlatform is the default [Platform]. Each context is backed by one
// goroutine, parked on a channel while the context is suspended; a switch
// signals the target and parks the caller. A context whose entry returns is
// kept alive to run the next seeded entry, which is what makes pooled fibers
// cheap to reuse.
type GoroutinePlatform struct {
	once     sync.Once
	template contextTemplate
}

// contextTemplate is the fresh state every new context starts from.
type contextTemplate struct {
	spawn func(fn func())
}

// NewGoroutinePlatform returns a ready to use GoroutinePlatform.
func NewGoroutinePlatform() *GoroutinePlatform {
	return new(GoroutinePlatform)
}

// initTemplate computes the prototype cloned by NewContext.
func (p *GoroutinePlatform) initTemplate() {
	p.template = contextTemplate{
		spawn: func(fn func()) { go fn() },
	}
}

func (p *GoroutinePlatform) NewContext(stack *Stack) Context {
	p.once.Do(p.initTemplate)
	return &goroutineContext{
		spawn:  p.template.spawn,
		stack:  stack,
		resume: make(chan struct{}),
		dead:   make(chan struct{}),
	}
}

func (p *GoroutinePlatform) CurrentContext() Context {
	return &goroutineContext{
		resume:  make(chan struct{}),
		dead:    make(chan struct{}),
		started: true,
	}
}

type goroutineContext struct {
	spawn   func(fn func())
	stack   *Stack
	entry   func()
	resume  chan struct{}
	dead    chan struct{}
	discard sync.Once
	started bool
}

func (c *goroutineContext) Seed(entry func()) {
	c.entry = entry
}

func (c *goroutineContext) SwitchTo(next Context) {
	next.(*goroutineContext).wake()
	c.park()
}

func (c *goroutineContext) Discard() {
	c.discard.Do(func() { close(c.dead) })
}

func (c *goroutineContext) wake() {
	if !c.started {
		c.started = true
		c.spawn(c.run)
		return
	}
	select {
	case c.resume <- struct{}{}:
	case <-c.dead:
	}
}

func (c *goroutineContext) park() {
	select {
	case <-c.resume:
	case <-c.dead:
		runtime.Goexit()
	}
}

// run is the body of the backing goroutine. Entries never return while their
// fiber is live: they end by switching away, and only return here once the
// context is resumed after being seeded again.
func (c *goroutineContext) run() {
	for {
		entry := c.entry
		c.entry = nil
		if entry == nil {
			// resumed without a seed, nothing to do but wait for one
			c.park()
			continue
		}
		entry()
	}
}
