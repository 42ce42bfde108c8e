package messagebus

import (
	"fmt"
	"time"
)

const (
	// IDAny matches events from any source. It is also the id of the
	// control bus, which is why events sent with this source are only
	// delivered to listeners registered for IDAny.
	IDAny uint16 = 0

	// EvtAny matches events with any value.
	EvtAny uint16 = 0
)

// Event is a message sent on the bus.
type Event struct {
	// Source identifies the component raising the event.
	Source uint16
	// Value is a source specific code for the cause of the event.
	Value uint16
	// Timestamp is the scheduler clock at the time the event was created.
	Timestamp time.Duration
	// Context is optional data associated with the event.
	Context any
}

func (e Event) String() string {
	return fmt.Sprintf("Event{%d, %d, %v}", e.Source, e.Value, e.Timestamp)
}

// NewEvent returns an event timestamped from the bus's scheduler.
func (b *Bus) NewEvent(source, value uint16) Event {
	return Event{Source: source, Value: value, Timestamp: b.sched.Now()}
}

// Fire creates an event with NewEvent, sends it, and returns it.
func (b *Bus) Fire(source, value uint16) Event {
	evt := b.NewEvent(source, value)
	b.Send(evt)
	return evt
}
