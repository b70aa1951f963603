// Package loopback provides an in-process transport that simulates a Halo
// hub: twin storage, telemetry capture, cloud-to-device messages and
// scriptable connectivity failures.
//
// It backs the halo-device sample and the lifecycle tests. The Hub is the
// simulated service side; Hub.Dialer hands out handles that satisfy
// transport.Client with the same contract as a real binding: idempotent
// Open, unauthorized-tolerant Close, and status changes delivered in
// emission order.
package loopback
