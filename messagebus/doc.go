// Package messagebus implements an event bus for the fiber scheduler.
//
// Producers, including interrupt handlers, [Bus.Send] events identified by a
// (source, value) pair. Listeners flagged [Urgent] are invoked immediately,
// on the sending goroutine. Everything else is queued, and delivered from the
// scheduler's idle fiber by [Bus.IdleTick], with each listener's reentrancy
// policy ([QueueIfBusy], [DropIfBusy], [Reentrant]) applied at the point of
// invocation. Listeners not flagged [NonBlocking] are run via
// [fiber.Scheduler.Invoke], so a handler that sleeps is moved onto its own
// fiber the first time it blocks.
//
// The listener list is kept sorted by (id, value). It may be read from any
// goroutine without locking, while Listen and Ignore are serialized.
package messagebus
