package transport

import (
	"context"
	"errors"

	"github.com/halo-iot/halo-go/pkg/credential"
	"github.com/halo-iot/halo-go/pkg/twin"
)

// Transport errors.
var (
	// ErrUnauthorized indicates the hub rejected the handle's
	// credential. Expected when closing a handle whose token has
	// already been invalidated.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrClosed indicates the handle has been closed.
	ErrClosed = errors.New("client closed")

	// ErrNotConnected indicates the handle is not currently usable.
	// It reports itself transient: operations failing with it are
	// worth retrying once the connection recovers.
	ErrNotConnected error = transientError("not connected")
)

// transientError is a sentinel error that retry policies classify as
// retriable.
type transientError string

func (e transientError) Error() string { return string(e) }

// Transient marks the error as retriable.
func (transientError) Transient() bool { return true }

// Client is one live handle to the hub.
//
// The lifecycle manager owns the handle exclusively; other components read
// it through the manager and must treat ErrNotConnected as a retryable
// condition while the handle is mid-replacement.
type Client interface {
	// ID returns the unique identifier of this handle, for logs.
	ID() string

	// Open establishes the connection. Open is idempotent: opening an
	// already-open handle is a no-op.
	Open(ctx context.Context) error

	// Close closes the handle. Closing an already-closed handle is a
	// no-op. May fail with ErrUnauthorized when the credential has
	// already been invalidated server-side; callers treat that as
	// expected.
	Close(ctx context.Context) error

	// Send sends a device-to-cloud message.
	Send(ctx context.Context, msg Message) error

	// Receive returns the next cloud-to-device message, or nil when no
	// message arrives within the transport's receive window.
	Receive(ctx context.Context) (*Message, error)

	// SetStatusCallback registers the connection-status-change
	// notification target. The callback is invoked fire-and-forget on
	// an arbitrary goroutine, in emission order.
	SetStatusCallback(cb func(StatusChange))

	// SetMessageCallback registers the cloud-to-device message
	// callback. Registration does not survive handle replacement.
	SetMessageCallback(cb func(Message))

	// SetDesiredPropertyCallback registers the twin desired-property
	// update callback. Registration does not survive handle
	// replacement.
	SetDesiredPropertyCallback(cb func(twin.DesiredProperties))

	// GetTwin fetches the current remote twin.
	GetTwin(ctx context.Context) (*twin.Document, error)

	// UpdateReportedProperties writes a reported-property patch.
	UpdateReportedProperties(ctx context.Context, patch twin.Patch) error
}

// Dialer constructs a new handle from a credential. Dial does not open
// the connection; the caller opens the returned handle.
type Dialer interface {
	Dial(ctx context.Context, cred credential.Credential) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cred credential.Credential) (Client, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cred credential.Credential) (Client, error) {
	return f(ctx, cred)
}
