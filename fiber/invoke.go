package fiber

// Invoke runs fn with fork-on-block semantics. The caller is suspended while
// fn runs on a pooled (or new) child context. If fn returns without blocking,
// the child goes straight back to the pool and Invoke returns, having made no
// fiber runnable. If fn blocks (Sleep, WaitForEvent or Yield), the child is
// detached as an ordinary fiber that finishes fn later, and Invoke returns as
// soon as the child first blocks.
//
// Invoke from within a fork-on-block context degrades to CreateFiber. If no
// child can be allocated and the fatal handler returns, fn runs inline on the
// caller as a best effort.
func (s *Scheduler) Invoke(fn func()) {
	if fn == nil {
		return
	}
	parent := s.current
	if parent.flags&flagFOB != 0 {
		s.CreateFiber(fn)
		return
	}
	child := s.getFiber()
	if child == nil {
		s.safeExecute(parent, fn)
		return
	}
	child.flags = flagFOB
	child.parent = parent
	child.ctx.Seed(s.forkEntry(child, fn))
	s.switchTo(parent, child)
}

// InvokeParam is Invoke for a function taking a parameter.
func (s *Scheduler) InvokeParam(fn func(param any), param any) {
	if fn == nil {
		return
	}
	s.Invoke(func() { fn(param) })
}

// forkEntry wraps fn for a fork-on-block child.
func (s *Scheduler) forkEntry(f *Fiber, fn func()) func() {
	return func() {
		s.safeExecute(f, fn)
		if f.flags&flagFOB == 0 {
			// blocked at some point, so f is an ordinary fiber by now
			s.release(f)
			return
		}
		parent := f.parent
		f.parent = nil
		f.flags = 0
		s.irq.Do(func() { s.pool.push(f) })
		s.stats.inline.Add(1)
		s.switchTo(f, parent)
	}
}

// detach turns a blocking fork-on-block child into an ordinary fiber, and
// resumes the fiber that invoked it. The child must already be queued, or it
// is treated as runnable.
func (s *Scheduler) detach(child *Fiber) {
	parent := child.parent
	child.parent = nil
	child.flags = flagChild
	s.irq.Do(func() {
		if child.queue == queueNone {
			s.runQueue.push(child)
		}
	})
	s.stats.forks.Add(1)
	s.switchTo(child, parent)
}

// WaitForEvent deschedules the calling fiber until WakeEvent is called with a
// matching (source, value). Either filter may be EventAny. The bound
// [EventRegistrar], if any, is asked to arrange that call.
//
// Like Sleep, from a fork-on-block context the caller is detached into its
// own fiber.
func (s *Scheduler) WaitForEvent(id, value uint16) {
	f := s.current
	if f == s.idle {
		s.misuse(`wait_for_event`)
		return
	}
	s.irq.Disable()
	f.waitID = id
	f.waitValue = value
	s.dequeue(f)
	s.waitQueue.push(f)
	registrar := s.registrar
	s.irq.Enable()
	if registrar != nil {
		registrar.RegisterWake(id, value)
	}
	s.Schedule()
}

// WakeEvent makes runnable every fiber waiting on an event matching source
// and value, returning how many were woken. It is safe to call from
// interrupt context.
func (s *Scheduler) WakeEvent(source, value uint16) int {
	var n int
	s.irq.Disable()
	for f := s.waitQueue.head; f != nil; {
		next := f.next
		if (f.waitID == EventAny || f.waitID == source) && (f.waitValue == EventAny || f.waitValue == value) {
			s.waitQueue.remove(f)
			s.runQueue.push(f)
			n++
		}
		f = next
	}
	s.irq.Enable()
	if n != 0 {
		s.irq.Raise()
	}
	return n
}
