// Package device assembles a fiber scheduler and message bus into a runtime,
// driven by a periodic tick and an interrupt controller.
//
// Interrupt handlers submitted via [Runtime.Interrupt] run one at a time, on
// an event loop goroutine, separate from the fibers. They may call any
// interrupt safe operation, such as [messagebus.Bus.Send] or
// [fiber.Scheduler.Tick]. Background work registered as an [IdleComponent]
// runs on the scheduler's idle fiber, whenever no fiber is runnable.
package device
