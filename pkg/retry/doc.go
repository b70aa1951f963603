// Package retry runs asynchronous operations under a pluggable backoff
// policy, gated by a readiness predicate.
//
// The readiness gate models "the connection is mid-replacement": while the
// predicate reports false the executor skips the operation entirely and
// the skipped iteration does not advance the backoff attempt counter, so a
// long reconnect does not burn through the retry budget of unrelated
// operations.
//
// Cancellation of the supplied context aborts the loop promptly and is the
// normal shutdown path, not an application error.
package retry
