// Package messaging provides the secure agent message bus: payload
// encryption and keyed-MAC signing (SecureMessenger), and directed
// in-process delivery with offline queuing and per-agent delivery
// statistics (Router).
//
// Delivery is in-process dispatch to registered handlers; wiring the bus
// to a socket or queue transport is an external concern. Queued messages
// for offline receivers can be held in memory (default) or in Redis for
// deployments where reconnecting agents attach to a different process.
package messaging
