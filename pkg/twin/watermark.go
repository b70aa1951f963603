package twin

import (
	"sync/atomic"
)

// InitialVersion is the watermark value before any update has been applied.
// Desired-property versions start at 1, so a fetched twin at version 1
// carries nothing the device has not seen.
const InitialVersion = 1

// Watermark tracks the highest desired-property version applied locally.
// It never decreases. The zero value is not ready; use NewWatermark.
type Watermark struct {
	version atomic.Int64
}

// NewWatermark creates a watermark at InitialVersion.
func NewWatermark() *Watermark {
	return RestoreWatermark(InitialVersion)
}

// RestoreWatermark creates a watermark at a previously persisted version.
// Versions below InitialVersion are raised to it.
func RestoreWatermark(version int64) *Watermark {
	if version < InitialVersion {
		version = InitialVersion
	}
	w := &Watermark{}
	w.version.Store(version)
	return w
}

// Version returns the current watermark.
func (w *Watermark) Version() int64 {
	return w.version.Load()
}

// Advance raises the watermark to version and reports whether it moved.
// A version at or below the current watermark is ignored.
func (w *Watermark) Advance(version int64) bool {
	for {
		current := w.version.Load()
		if version <= current {
			return false
		}
		if w.version.CompareAndSwap(current, version) {
			return true
		}
	}
}
