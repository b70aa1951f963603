// Package backoff decides whether a failed operation should be retried and
// how long to wait before the next attempt.
//
// # Delay
//
// The delay for attempt n is
//
//	|2^min(n, clamp) milliseconds + jitter|
//
// where jitter is uniform in [-1s, +1s). The exponent clamp bounds the
// maximum wait (clamp 20 caps the base term at about 17.5 minutes) and
// guards against integer overflow. The absolute value guards against a
// negative result when jitter dominates at low attempt counts.
//
// # Classification
//
// A failure is retriable when it is a network-layer error (net.Error), a
// service error that reports Transient() == true, or an error on the
// caller-supplied allow-list. Once the attempt counter exceeds the
// configured maximum, the policy gives up regardless of classification.
package backoff
