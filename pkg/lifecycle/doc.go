// Package lifecycle orchestrates the connection lifecycle of a Halo
// device client.
//
// The Manager owns the transport client handle. It reacts to
// connection-status-change notifications from the transport with a
// per-status, per-reason action table: re-initialize the handle, rotate to
// the next credential, reconcile the twin, or signal fatal termination.
//
// Re-initialization is serialized by a single mutual-exclusion gate shared
// by every trigger (the public entry point, the status handler and retry
// paths), with a double-checked "is initialization actually needed" guard
// so racing triggers do not replace a healthy handle.
//
// # Status handling
//
//   - CONNECTED: twin reconciliation runs to recover desired-property
//     updates missed while disconnected.
//   - DISCONNECTED_RETRYING: nothing; the transport is recovering on its
//     own and the handle must not be touched.
//   - DISABLED: nothing; the handle was closed by explicit request.
//   - DISCONNECTED/BAD_CREDENTIAL: the head credential is discarded
//     permanently; the next candidate is tried, or the manager signals
//     fatal termination when none remain.
//   - DISCONNECTED/DEVICE_DISABLED: fatal termination.
//   - DISCONNECTED/RETRY_EXPIRED and DISCONNECTED/COMMUNICATION_ERROR:
//     re-initialization (configurable via Actions).
//   - anything else: logged at error severity, no corrective action.
package lifecycle
