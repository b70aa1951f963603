package twin

// DesiredProperties is a versioned desired-property update, either pushed
// live by the hub or fetched during reconciliation.
type DesiredProperties struct {
	// Version is the monotonically increasing desired-property version.
	Version int64

	// Values holds the key-value pairs of the update.
	Values map[string]any
}

// Patch is a set of reported properties to write back to the hub.
type Patch map[string]any

// Document is a snapshot of the remote twin.
type Document struct {
	// Desired is the current desired-property document.
	Desired DesiredProperties

	// Reported is the current reported-property document, as last
	// written by the device. May be nil when fetched with a
	// desired-only projection.
	Reported map[string]any
}
