// Package eventservice bridges a [messagebus.Bus] to a remote client, over a
// simple link, e.g. a BLE characteristic pair.
//
// The client writes 4 byte frames, each an (id, value) pair, little endian.
// Writes to the client event endpoint fire events on the bus. Writes to the
// client requirements endpoint subscribe the client to matching bus events,
// which are forwarded back to it via [Link.Notify], one event per
// notification unless batching is enabled, see [WithBatchSize]. The client
// may enumerate the bus's listeners, one frame per read, see
// [Service.ReadRequirements].
//
// Subscriptions do not survive a disconnect. A Service is an idle component
// of the device runtime, which drops them once the link is down.
package eventservice
