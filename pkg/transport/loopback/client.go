package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/halo-iot/halo-go/pkg/credential"
	"github.com/halo-iot/halo-go/pkg/transport"
	"github.com/halo-iot/halo-go/pkg/twin"
)

// Client is one loopback handle to a Hub.
type Client struct {
	id   string
	hub  *Hub
	cred credential.Credential

	mu     sync.Mutex
	opened bool
	closed bool
	usable bool

	statusCb  func(transport.StatusChange)
	msgCb     func(transport.Message)
	desiredCb func(twin.DesiredProperties)
}

// newClient constructs an unopened handle.
func newClient(hub *Hub, cred credential.Credential) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		cred: cred,
	}
}

// ID returns the handle's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Open establishes the connection. Opening an already-open handle is a
// no-op. Fails with transport.ErrUnauthorized when the credential's key
// has been revoked.
func (c *Client) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.hub.keyRevoked(c.cred) {
		return fmt.Errorf("open %q: %w", c.cred.Label, transport.ErrUnauthorized)
	}

	c.mu.Lock()
	c.opened = true
	c.usable = true
	c.mu.Unlock()

	c.hub.attach(c)

	if c.hub.deviceDisabled() {
		// The hub accepts the connection, then immediately severs it
		// with the registry state, as a real hub does.
		c.drop(transport.StatusChange{
			Status: transport.StatusDisconnected,
			Reason: transport.ReasonDeviceDisabled,
		})
		return nil
	}

	c.emit(transport.StatusChange{
		Status: transport.StatusConnected,
		Reason: transport.ReasonOK,
	})
	return nil
}

// Close closes the handle. Closing an already-closed handle is a no-op.
// Reports transport.ErrUnauthorized when the credential has been revoked,
// which callers tolerate.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasOpen := c.opened
	c.usable = false
	c.mu.Unlock()

	c.hub.detach(c)

	if c.hub.keyRevoked(c.cred) {
		return fmt.Errorf("close %q: %w", c.cred.Label, transport.ErrUnauthorized)
	}

	if wasOpen {
		c.emit(transport.StatusChange{
			Status: transport.StatusDisabled,
			Reason: transport.ReasonClientClosed,
		})
	}
	return nil
}

// Send sends a device-to-cloud message.
func (c *Client) Send(ctx context.Context, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.isUsable() {
		return transport.ErrNotConnected
	}
	c.hub.acceptTelemetry(msg)
	return nil
}

// Receive returns the next cloud-to-device message, or nil when none is
// queued.
func (c *Client) Receive(ctx context.Context) (*transport.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.isUsable() {
		return nil, transport.ErrNotConnected
	}
	return c.hub.nextC2D(), nil
}

// SetStatusCallback registers the status-change notification target.
func (c *Client) SetStatusCallback(cb func(transport.StatusChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCb = cb
}

// SetMessageCallback registers the cloud-to-device message callback.
func (c *Client) SetMessageCallback(cb func(transport.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgCb = cb
}

// SetDesiredPropertyCallback registers the desired-property update
// callback.
func (c *Client) SetDesiredPropertyCallback(cb func(twin.DesiredProperties)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desiredCb = cb
}

// GetTwin fetches the current twin snapshot.
func (c *Client) GetTwin(ctx context.Context) (*twin.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.isUsable() {
		return nil, transport.ErrNotConnected
	}
	return &twin.Document{
		Desired:  c.hub.Desired(),
		Reported: c.hub.Reported(),
	}, nil
}

// UpdateReportedProperties writes a reported-property patch.
func (c *Client) UpdateReportedProperties(ctx context.Context, patch twin.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.isUsable() {
		return transport.ErrNotConnected
	}
	c.hub.mergeReported(patch)
	return nil
}

// pushMessage delivers a cloud-to-device message through the message
// callback. Reports false when no callback is registered or the handle is
// not usable, in which case the hub queues the message instead.
func (c *Client) pushMessage(msg transport.Message) bool {
	c.mu.Lock()
	cb := c.msgCb
	usable := c.usable
	c.mu.Unlock()

	if !usable || cb == nil {
		return false
	}
	cb(msg)
	return true
}

// notifyDesired delivers a live desired-property update.
func (c *Client) notifyDesired(update twin.DesiredProperties) {
	c.mu.Lock()
	cb := c.desiredCb
	usable := c.usable
	c.mu.Unlock()

	if usable && cb != nil {
		cb(update)
	}
}

// drop marks the handle unusable and reports the change.
func (c *Client) drop(sc transport.StatusChange) {
	c.mu.Lock()
	c.usable = false
	c.mu.Unlock()
	c.emit(sc)
}

// degrade reports the transport's own retry in progress. The handle stays
// formally attached but operations fail until restore.
func (c *Client) degrade() {
	c.mu.Lock()
	c.usable = false
	c.mu.Unlock()
	c.emit(transport.StatusChange{
		Status: transport.StatusDisconnectedRetrying,
		Reason: transport.ReasonCommunicationError,
	})
}

// restore reports recovery after a degrade.
func (c *Client) restore() {
	c.mu.Lock()
	if c.closed || !c.opened {
		c.mu.Unlock()
		return
	}
	c.usable = true
	c.mu.Unlock()
	c.emit(transport.StatusChange{
		Status: transport.StatusConnected,
		Reason: transport.ReasonOK,
	})
}

// emit delivers a status change to the registered callback, in emission
// order, without awaiting handler completion (the handler is responsible
// for not blocking).
func (c *Client) emit(sc transport.StatusChange) {
	c.mu.Lock()
	cb := c.statusCb
	c.mu.Unlock()

	if cb != nil {
		cb(sc)
	}
}

func (c *Client) isUsable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usable && !c.closed
}

// Compile-time interface satisfaction check.
var _ transport.Client = (*Client)(nil)
