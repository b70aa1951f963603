// Package transport defines the capability surface the connection
// lifecycle subsystem requires from a Halo transport implementation
// (MQTT, AMQP or HTTP bindings all satisfy the same contract).
//
// A Client is one live handle to the hub. The lifecycle manager owns
// exactly one handle at a time; callback registrations do not survive a
// handle replacement and must be redone on the new handle. Open is
// idempotent, and Close tolerates a credential that has already been
// invalidated server-side.
//
// Status changes are delivered through the registered status callback in
// emission order, on an arbitrary goroutine, fire-and-forget.
package transport
