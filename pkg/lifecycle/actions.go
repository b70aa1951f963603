package lifecycle

import (
	"github.com/halo-iot/halo-go/pkg/transport"
)

// ReasonAction is the corrective action taken for a DISCONNECTED reason.
type ReasonAction uint8

const (
	// ActionNone takes no corrective action.
	ActionNone ReasonAction = iota

	// ActionReinitialize replaces the handle through the
	// initialization gate.
	ActionReinitialize

	// ActionRotateCredential discards the head credential, then
	// re-initializes with the next candidate or signals fatal
	// termination when none remain.
	ActionRotateCredential

	// ActionFatal signals fatal termination.
	ActionFatal
)

// String returns a human-readable action name.
func (a ReasonAction) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionReinitialize:
		return "REINITIALIZE"
	case ActionRotateCredential:
		return "ROTATE_CREDENTIAL"
	case ActionFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Actions maps DISCONNECTED reasons to corrective actions.
//
// Whether COMMUNICATION_ERROR should blindly re-initialize (the cause is
// opaque to this layer) is a policy choice, so the table is configurable
// rather than fixed.
type Actions map[transport.Reason]ReasonAction

// DefaultActions returns the default decision table.
func DefaultActions() Actions {
	return Actions{
		transport.ReasonBadCredential:      ActionRotateCredential,
		transport.ReasonDeviceDisabled:     ActionFatal,
		transport.ReasonRetryExpired:       ActionReinitialize,
		transport.ReasonCommunicationError: ActionReinitialize,
	}
}

// forReason returns the configured action for a reason.
// Unlisted reasons get ActionNone: fail safe rather than guess.
func (a Actions) forReason(r transport.Reason) ReasonAction {
	if action, ok := a[r]; ok {
		return action
	}
	return ActionNone
}
