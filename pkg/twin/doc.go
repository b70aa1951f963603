// Package twin tracks the device twin: a remote key-value document with a
// controller-written desired side and a device-written reported side.
//
// Desired-property updates carry a monotonically increasing version. The
// device keeps a watermark of the highest version it has applied; on
// reconnect the reconciler fetches the remote twin and replays the desired
// properties only when the server is ahead of the watermark, so updates
// missed during a disconnect window are recovered exactly once.
package twin
