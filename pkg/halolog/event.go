package halolog

import (
	"time"
)

// Event represents an SDK log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the transport handle (UUID).
	// Empty for events not tied to a specific handle.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// DeviceID is the device identifier.
	DeviceID string `cbor:"3,keyasint,omitempty"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Severity of the event.
	Severity Severity `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	StateChange *StateChangeEvent `cbor:"6,keyasint,omitempty"` // Connection status changes
	Retry       *RetryEvent       `cbor:"7,keyasint,omitempty"` // Retry attempts and decisions
	Twin        *TwinEvent        `cbor:"8,keyasint,omitempty"` // Twin reconciliation and updates
	Error       *ErrorEventData   `cbor:"9,keyasint,omitempty"` // Errors at any layer
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryStateChange is a connection status change.
	CategoryStateChange Category = 0
	// CategoryRetry is a retry attempt or retry decision.
	CategoryRetry Category = 1
	// CategoryTwin is a twin reconciliation or desired-property update.
	CategoryTwin Category = 2
	// CategoryError is an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryStateChange:
		return "STATE_CHANGE"
	case CategoryRetry:
		return "RETRY"
	case CategoryTwin:
		return "TWIN"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Severity indicates the importance of an event.
type Severity uint8

const (
	// SeverityDebug is a routine diagnostic event.
	SeverityDebug Severity = 0
	// SeverityInfo is a notable but expected event.
	SeverityInfo Severity = 1
	// SeverityWarn is an abnormal but recovered condition.
	SeverityWarn Severity = 2
	// SeverityError is an unexpected condition.
	SeverityError Severity = 3
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures a connection status change with the action taken.
type StateChangeEvent struct {
	// Status is the reported connection status.
	Status string `cbor:"1,keyasint"`

	// Reason is the reported status change reason.
	Reason string `cbor:"2,keyasint,omitempty"`

	// Action is the corrective action the lifecycle manager took.
	Action string `cbor:"3,keyasint,omitempty"`
}

// RetryEvent captures one iteration of a retry loop or a backoff decision.
type RetryEvent struct {
	// Operation names the operation being retried.
	Operation string `cbor:"1,keyasint"`

	// Attempt is the zero-based attempt counter.
	Attempt int `cbor:"2,keyasint"`

	// Delay is the computed backoff delay, if a retry was scheduled.
	Delay time.Duration `cbor:"3,keyasint,omitempty"`

	// Outcome describes the iteration: "success", "failure", "skipped",
	// "retry", "give-up" or "cancelled".
	Outcome string `cbor:"4,keyasint"`

	// Failure is the failure message that drove the decision, if any.
	Failure string `cbor:"5,keyasint,omitempty"`
}

// TwinEvent captures a twin reconciliation pass or an applied update.
type TwinEvent struct {
	// LocalVersion is the desired-property watermark before the operation.
	LocalVersion int64 `cbor:"1,keyasint"`

	// ServerVersion is the version reported by the twin store, if fetched.
	ServerVersion int64 `cbor:"2,keyasint,omitempty"`

	// Applied indicates whether an update was applied.
	Applied bool `cbor:"3,keyasint"`

	// Keys is the number of properties in the applied patch.
	Keys int `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Context describes where the error occurred.
	Context string `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(category Category) Event {
	return Event{
		Timestamp: time.Now(),
		Category:  category,
	}
}
