// Package credential manages the ordered set of candidate credentials a
// device uses to authenticate with the Halo hub.
//
// Devices are provisioned with one or more shared access keys (typically a
// primary and a secondary). The lifecycle manager consumes the set
// front-to-back: when the hub rejects the head credential, it is discarded
// permanently and the next candidate is tried. An empty set is a fatal
// condition for the connection lifecycle.
package credential
