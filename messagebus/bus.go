package messagebus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-microdal/fiber"
	"github.com/joeycumines/logiface"
)

// Scheduler is the subset of [fiber.Scheduler] used by the bus.
type Scheduler interface {
	Invoke(fn func())
	RunQueueEmpty() bool
	WakeEvent(source, value uint16) int
	Now() time.Duration
	IRQ() *fiber.IRQ
}

// Bus delivers events to listeners. See the package documentation.
type Bus struct {
	_ [0]func() // prevent comparison

	sched   Scheduler
	irq     *fiber.IRQ
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	metrics *Metrics

	head atomic.Pointer[Listener]
	seq  atomic.Uint64

	// serializes writers of the list, and guards listener invocation state
	mu sync.Mutex

	// guarded by irq
	queue []Event

	maxDeferred int
	nonce       atomic.Uint32
	stats       counters
}

// Stats is a snapshot of a bus's counters.
type Stats struct {
	// Sent is the number of events passed to Send.
	Sent uint64
	// Queued is the number of events deferred to IdleTick.
	Queued uint64
	// Delivered is the number of callback invocations.
	Delivered uint64
	// Dropped is the number of events discarded by DropIfBusy listeners.
	Dropped uint64
	// Overflowed is the number of events discarded by QueueIfBusy
	// listeners, whose deferred queue was full.
	Overflowed uint64
	// Panics is the number of recovered callback panics.
	Panics uint64
	// Pending is the current length of the event queue.
	Pending int
	// Listeners is the number of registered listeners.
	Listeners int
}

type counters struct {
	sent       atomic.Uint64
	queued     atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
	overflowed atomic.Uint64
	panics     atomic.Uint64
}

// New returns a bus delivering events using sched, typically a
// [*fiber.Scheduler]. Bind it to the scheduler with
// [fiber.Scheduler.BindEvents] to support [fiber.Scheduler.WaitForEvent].
func New(sched Scheduler, opts ...Option) (*Bus, error) {
	if sched == nil {
		return nil, ErrNilScheduler
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	b := &Bus{
		sched:       sched,
		irq:         sched.IRQ(),
		logger:      cfg.logger,
		limiter:     catrate.NewLimiter(map[time.Duration]int{time.Second: 1, time.Minute: 10}),
		maxDeferred: cfg.maxDeferred,
	}
	if cfg.metricsEnabled {
		b.metrics = new(Metrics)
	}
	// a zero Cache is never valid
	b.seq.Store(1)
	return b, nil
}

// Listen registers cb for events matching (id, value), either of which may
// be IDAny / EvtAny. A nil callback, or a listener identical to one already
// registered (same id, value and callback), is ignored. Flags of zero means
// DefaultFlags. Reports whether a listener was added.
func (b *Bus) Listen(id, value uint16, cb Callback, flags Flags) bool {
	if cb == nil {
		return false
	}
	if flags == 0 {
		flags = DefaultFlags
	}
	n := &Listener{cb: cb, id: id, value: value, flags: flags}
	key := cb.key()

	b.mu.Lock()
	var prev *Listener
	for l := b.head.Load(); l != nil; l = l.next.Load() {
		if l.id == id && l.value == value && l.cb.key() == key {
			b.mu.Unlock()
			return false
		}
		if l.id > id || (l.id == id && l.value > value) {
			break
		}
		// equal keys are passed over, so the new listener goes last
		prev = l
	}
	if prev == nil {
		n.next.Store(b.head.Load())
		b.head.Store(n)
	} else {
		n.next.Store(prev.next.Load())
		prev.next.Store(n)
	}
	seq := b.seq.Add(1)
	b.mu.Unlock()

	b.logger.Debug().
		Int(`id`, int(id)).
		Int(`value`, int(value)).
		Stringer(`flags`, flags).
		Uint64(`seq`, seq).
		Log(`listener added`)

	return true
}

// ListenFunc is Listen(id, value, Func(fn), flags).
func (b *Bus) ListenFunc(id, value uint16, fn func(Event), flags Flags) bool {
	return b.Listen(id, value, Func(fn), flags)
}

// Ignore removes every listener with callback cb, whose id and value match
// the given filter, returning the number removed. IDAny and EvtAny act as
// wildcards. A listener removed during its own invocation completes that
// invocation, but receives no further events.
func (b *Bus) Ignore(id, value uint16, cb Callback) int {
	if cb == nil {
		return 0
	}
	key := cb.key()
	var removed int

	b.mu.Lock()
	var prev *Listener
	for l := b.head.Load(); l != nil; {
		next := l.next.Load()
		if (id == IDAny || id == l.id) && (value == EvtAny || value == l.value) && l.cb.key() == key {
			if prev == nil {
				b.head.Store(next)
			} else {
				prev.next.Store(next)
			}
			// l.next is left intact for any concurrent walk
			l.removed = true
			l.deferred = nil
			removed++
		} else {
			prev = l
		}
		l = next
	}
	if removed != 0 {
		b.seq.Add(1)
	}
	b.mu.Unlock()

	if removed != 0 {
		b.logger.Debug().
			Int(`id`, int(id)).
			Int(`value`, int(value)).
			Int(`removed`, removed).
			Log(`listeners removed`)
	}

	return removed
}

// Send delivers evt to every Urgent listener, then, if any other listener
// matches, appends it to the event queue, for IdleTick. It is safe to call
// from interrupt context.
func (b *Bus) Send(evt Event) {
	b.SendCached(evt, nil)
}

// SendCached is Send, using (and updating) c to locate the listeners for
// evt.Source, see ProcessCached. Producers that repeatedly send from the
// same source may keep one Cache each. A nil c is the same as Send.
func (b *Bus) SendCached(evt Event, c *Cache) {
	b.stats.sent.Add(1)
	if b.ProcessCached(evt, Urgent, c) {
		return
	}
	b.irq.Disable()
	b.queue = append(b.queue, evt)
	depth := len(b.queue)
	b.irq.Enable()
	b.stats.queued.Add(1)
	if b.metrics != nil {
		b.metrics.Queue.Update(depth)
	}
	b.irq.Raise()
}

// IdleTick processes queued events while there is nothing else to run. At
// least one event is processed, if any are queued. It is intended to be
// called by the scheduler's idle fiber.
func (b *Bus) IdleTick() {
	for {
		evt, ok := b.dequeue()
		if !ok {
			return
		}
		start := time.Now()
		b.Process(evt, DefaultMask)
		if b.metrics != nil {
			b.metrics.Latency.Record(time.Since(start))
		}
		if !b.sched.RunQueueEmpty() {
			return
		}
	}
}

// IsIdleCallbackNeeded reports whether any events are queued.
func (b *Bus) IsIdleCallbackNeeded() bool {
	b.irq.Disable()
	defer b.irq.Enable()
	return len(b.queue) != 0
}

func (b *Bus) dequeue() (evt Event, ok bool) {
	b.irq.Disable()
	if len(b.queue) != 0 {
		evt, ok = b.queue[0], true
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		if len(b.queue) == 0 {
			b.queue = nil
		}
	}
	depth := len(b.queue)
	b.irq.Enable()
	if ok && b.metrics != nil {
		b.metrics.Queue.Update(depth)
	}
	return evt, ok
}

// Process delivers evt to matching listeners, returning true if every
// matching listener was processed. If mask includes Urgent, only Urgent
// listeners are invoked. Otherwise, Urgent listeners are skipped, as they
// have already seen the event, and the remaining listeners are invoked if
// their flags intersect mask.
func (b *Bus) Process(evt Event, mask Flags) bool {
	return b.ProcessCached(evt, mask, nil)
}

// ProcessCached is Process, using (and updating) c to locate the listeners
// for evt.Source.
func (b *Bus) ProcessCached(evt Event, mask Flags, c *Cache) bool {
	seq := b.seq.Load()
	var start *Listener
	if c != nil && c.seq == seq {
		start = c.ptr
	} else {
		l := b.head.Load()
		for l != nil && l.id < evt.Source {
			l = l.next.Load()
		}
		if l != nil && l.id == evt.Source {
			start = l
		}
		if c != nil {
			c.ptr = start
			c.seq = seq
		}
	}

	complete := true
	for l := start; l != nil && l.id == evt.Source; l = l.next.Load() {
		if l.matches(evt.Value) && !b.dispatch(l, evt, mask) {
			complete = false
		}
	}
	if evt.Source != IDAny {
		for l := b.head.Load(); l != nil && l.id == IDAny; l = l.next.Load() {
			if l.matches(evt.Value) && !b.dispatch(l, evt, mask) {
				complete = false
			}
		}
	}
	return complete
}

// dispatch invokes l for evt, if permitted by mask, returning false if l
// still needs to process evt.
func (b *Bus) dispatch(l *Listener, evt Event, mask Flags) bool {
	if mask&Urgent != 0 {
		if l.flags&Urgent == 0 {
			return false
		}
		b.deliver(l, evt)
		return true
	}
	if l.flags&Urgent != 0 {
		return true
	}
	if l.flags&mask == 0 {
		return false
	}
	if l.flags&NonBlocking != 0 {
		b.deliver(l, evt)
	} else {
		b.sched.Invoke(func() { b.deliver(l, evt) })
	}
	return true
}

// deliver applies the listener's reentrancy policy, and invokes it.
func (b *Bus) deliver(l *Listener, evt Event) {
	b.mu.Lock()
	if l.removed {
		b.mu.Unlock()
		return
	}
	if l.active != 0 {
		switch {
		case l.flags&DropIfBusy != 0:
			b.mu.Unlock()
			b.stats.dropped.Add(1)
			b.warn(`drop_if_busy`, l, evt, `listener busy: event dropped`)
			return
		case l.flags&QueueIfBusy != 0:
			if len(l.deferred) >= b.maxDeferred {
				b.mu.Unlock()
				b.stats.overflowed.Add(1)
				b.warn(`deferred_overflow`, l, evt, `listener busy: deferred queue full: event dropped`)
				return
			}
			l.deferred = append(l.deferred, evt)
			b.mu.Unlock()
			return
		}
	}
	l.active++
	b.mu.Unlock()

	for {
		b.call(l, evt)

		b.mu.Lock()
		if l.removed || l.flags&QueueIfBusy == 0 || len(l.deferred) == 0 {
			l.active--
			b.mu.Unlock()
			return
		}
		evt = l.deferred[0]
		l.deferred[0] = Event{}
		l.deferred = l.deferred[1:]
		b.mu.Unlock()
	}
}

// call runs the listener's callback, recovering any panic.
func (b *Bus) call(l *Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.stats.panics.Add(1)
			b.logger.Err().
				Err(PanicError{Value: r}).
				Int(`id`, int(l.id)).
				Int(`value`, int(l.value)).
				Log(`listener panicked`)
		}
	}()
	b.stats.delivered.Add(1)
	l.cb.call(evt)
}

func (b *Bus) warn(category string, l *Listener, evt Event, msg string) {
	if _, ok := b.limiter.Allow(category); !ok {
		return
	}
	b.logger.Warning().
		Int(`id`, int(l.id)).
		Int(`value`, int(l.value)).
		Int(`source`, int(evt.Source)).
		Int(`event`, int(evt.Value)).
		Log(msg)
}

// ElementAt returns the listener at position n of the list, or nil if n is
// out of range.
func (b *Bus) ElementAt(n int) *Listener {
	if n < 0 {
		return nil
	}
	l := b.head.Load()
	for ; l != nil && n > 0; n-- {
		l = l.next.Load()
	}
	return l
}

// Len returns the number of registered listeners.
func (b *Bus) Len() (n int) {
	for l := b.head.Load(); l != nil; l = l.next.Load() {
		n++
	}
	return n
}

// Seq returns the list's sequence number, which changes every time a
// listener is added or removed.
func (b *Bus) Seq() uint64 {
	return b.seq.Load()
}

// Nonce returns a locally unique value, e.g. for use as an event value.
func (b *Bus) Nonce() uint16 {
	return uint16(b.nonce.Add(1) - 1)
}

// Metrics returns the bus metrics, or nil if not enabled.
func (b *Bus) Metrics() *Metrics {
	return b.metrics
}

// Stats returns a snapshot of the bus's counters.
func (b *Bus) Stats() Stats {
	st := Stats{
		Sent:       b.stats.sent.Load(),
		Queued:     b.stats.queued.Load(),
		Delivered:  b.stats.delivered.Load(),
		Dropped:    b.stats.dropped.Load(),
		Overflowed: b.stats.overflowed.Load(),
		Panics:     b.stats.panics.Load(),
		Listeners:  b.Len(),
	}
	b.irq.Do(func() { st.Pending = len(b.queue) })
	return st
}

// wakeRegistration wakes fibers waiting for an event, then unregisters
// itself.
type wakeRegistration struct {
	bus   *Bus
	id    uint16
	value uint16
}

func (w *wakeRegistration) fire(evt Event) {
	w.bus.sched.WakeEvent(evt.Source, evt.Value)
	w.bus.Ignore(w.id, w.value, Method(w, (*wakeRegistration).fire))
}

// RegisterWake implements [fiber.EventRegistrar], waking fibers waiting for
// (id, value) the next time a matching event is sent.
func (b *Bus) RegisterWake(id, value uint16) {
	w := &wakeRegistration{bus: b, id: id, value: value}
	b.Listen(id, value, Method(w, (*wakeRegistration).fire), Immediate)
}

var _ fiber.EventRegistrar = (*Bus)(nil)
