package messagebus

import (
	"fmt"
	"strings"
)

// Flags configure how a listener is invoked.
type Flags uint16

const (
	// Reentrant listeners are invoked for every event, even while a previous
	// invocation is still in progress.
	Reentrant Flags = 0x0001
	// QueueIfBusy listeners buffer events received while busy, and process
	// them in order before the in-flight invocation completes.
	QueueIfBusy Flags = 0x0002
	// DropIfBusy listeners discard events received while busy.
	DropIfBusy Flags = 0x0004
	// NonBlocking listeners are called directly, rather than via
	// fiber.Scheduler.Invoke. They must not block.
	NonBlocking Flags = 0x0008
	// Urgent listeners are called synchronously from Send, ahead of the
	// event queue, potentially from interrupt context.
	Urgent Flags = 0x0010

	// Immediate is for trusted, non-blocking handlers that must observe
	// events as they are sent.
	Immediate = NonBlocking | Urgent

	// DefaultFlags are used by Listen when no flags are given.
	DefaultFlags = QueueIfBusy

	// DefaultMask is the process mask used when draining the event queue.
	DefaultMask = Reentrant | QueueIfBusy | DropIfBusy | NonBlocking
)

var flagNames = [...]struct {
	flag Flags
	name string
}{
	{Reentrant, `Reentrant`},
	{QueueIfBusy, `QueueIfBusy`},
	{DropIfBusy, `DropIfBusy`},
	{NonBlocking, `NonBlocking`},
	{Urgent, `Urgent`},
}

func (f Flags) String() string {
	if f == 0 {
		return `0`
	}
	var b strings.Builder
	for _, v := range flagNames {
		if f&v.flag == 0 {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(v.name)
		f &^= v.flag
	}
	if f != 0 {
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "0x%04x", uint16(f))
	}
	return b.String()
}
