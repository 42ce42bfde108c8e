package messagebus

import (
	"sync/atomic"
)

// Listener is a registered handler. Listeners are created by [Bus.Listen],
// and may be inspected via [Bus.ElementAt].
type Listener struct {
	cb    Callback
	next  atomic.Pointer[Listener]
	id    uint16
	value uint16
	flags Flags

	// guarded by Bus.mu
	active   int
	removed  bool
	deferred []Event
}

// ID returns the event source the listener is registered for.
func (l *Listener) ID() uint16 { return l.id }

// Value returns the event value the listener is registered for.
func (l *Listener) Value() uint16 { return l.value }

// Flags returns the listener's flags.
func (l *Listener) Flags() Flags { return l.flags }

// Callback returns the listener's handler.
func (l *Listener) Callback() Callback { return l.cb }

// matches reports whether the listener accepts evt's value. The source is
// matched by the list walk.
func (l *Listener) matches(value uint16) bool {
	return l.value == EvtAny || l.value == value
}

// Cache remembers where the listeners for an event source start, avoiding a
// walk of the list for frequently used sources. It is invalidated by any
// change to the list. A Cache must not be used concurrently.
type Cache struct {
	ptr *Listener
	seq uint64
}
