package transport

// Status represents the connection status reported by a transport.
type Status uint8

const (
	// StatusConnected indicates an active, usable connection.
	StatusConnected Status = iota

	// StatusDisconnectedRetrying indicates the transport lost the
	// connection and is retrying autonomously. The handle must not be
	// closed or replaced while in this state.
	StatusDisconnectedRetrying

	// StatusDisconnected indicates the transport has given up on the
	// current handle. The reason sub-classifies the cause.
	StatusDisconnected

	// StatusDisabled indicates the handle was gracefully closed by
	// explicit request. A fresh initialization is required to resume.
	StatusDisabled
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnectedRetrying:
		return "DISCONNECTED_RETRYING"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Reason sub-classifies a status change.
type Reason uint8

const (
	// ReasonOK indicates no abnormal condition.
	ReasonOK Reason = iota

	// ReasonBadCredential indicates the hub rejected the credential.
	ReasonBadCredential

	// ReasonDeviceDisabled indicates the device is disabled in the hub
	// registry. Unrecoverable from the device side.
	ReasonDeviceDisabled

	// ReasonRetryExpired indicates the transport's own retry policy
	// gave up.
	ReasonRetryExpired

	// ReasonCommunicationError indicates a non-retriable transport
	// error.
	ReasonCommunicationError

	// ReasonClientClosed indicates the client was closed locally.
	ReasonClientClosed

	// ReasonUnknown indicates an unclassified cause.
	ReasonUnknown
)

// String returns a human-readable reason name.
func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "OK"
	case ReasonBadCredential:
		return "BAD_CREDENTIAL"
	case ReasonDeviceDisabled:
		return "DEVICE_DISABLED"
	case ReasonRetryExpired:
		return "RETRY_EXPIRED"
	case ReasonCommunicationError:
		return "COMMUNICATION_ERROR"
	case ReasonClientClosed:
		return "CLIENT_CLOSED"
	case ReasonUnknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// Action is the action the transport recommends for a status change.
type Action uint8

const (
	// ActionPerformNormally indicates operations can proceed.
	ActionPerformNormally Action = iota

	// ActionOpenConnection indicates the handle should be replaced.
	ActionOpenConnection

	// ActionWaitForRetryPolicy indicates the transport is recovering on
	// its own and callers should wait.
	ActionWaitForRetryPolicy

	// ActionQuit indicates an unrecoverable condition.
	ActionQuit
)

// String returns a human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionPerformNormally:
		return "PERFORM_NORMALLY"
	case ActionOpenConnection:
		return "OPEN_CONNECTION"
	case ActionWaitForRetryPolicy:
		return "WAIT_FOR_RETRY_POLICY"
	case ActionQuit:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// StatusChange is one connectivity observation produced by the transport.
// It always reflects the latest observation; under concurrent delivery the
// last write wins.
type StatusChange struct {
	// Status is the new connection status.
	Status Status

	// Reason sub-classifies the change.
	Reason Reason
}

// RecommendedAction derives the transport's recommendation for the change.
func (c StatusChange) RecommendedAction() Action {
	switch c.Status {
	case StatusConnected:
		return ActionPerformNormally
	case StatusDisconnectedRetrying:
		return ActionWaitForRetryPolicy
	case StatusDisabled:
		return ActionQuit
	case StatusDisconnected:
		switch c.Reason {
		case ReasonBadCredential, ReasonDeviceDisabled:
			return ActionQuit
		default:
			return ActionOpenConnection
		}
	default:
		return ActionQuit
	}
}

// String formats the change as "STATUS/REASON".
func (c StatusChange) String() string {
	return c.Status.String() + "/" + c.Reason.String()
}
