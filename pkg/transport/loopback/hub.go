package loopback

import (
	"context"
	"sync"

	"github.com/halo-iot/halo-go/pkg/credential"
	"github.com/halo-iot/halo-go/pkg/transport"
	"github.com/halo-iot/halo-go/pkg/twin"
)

// Hub simulates the service side of a Halo hub for one device.
// Hub is safe for concurrent use.
type Hub struct {
	mu sync.Mutex

	// Twin state
	desired  twin.DesiredProperties
	reported map[string]any

	// Message queues
	telemetry []transport.Message
	c2d       []transport.Message

	// Revoked shared access keys
	revoked map[string]bool

	// Device disabled in the registry
	disabled bool

	// Currently attached client, nil when none
	attached *Client

	// Dial counter, for tests
	dials int
}

// NewHub creates a hub with an empty twin at desired version 1.
func NewHub() *Hub {
	return &Hub{
		desired:  twin.DesiredProperties{Version: 1, Values: map[string]any{}},
		reported: map[string]any{},
		revoked:  map[string]bool{},
	}
}

// Dialer returns a dialer that constructs handles against this hub.
// Dial itself never fails; credential validation happens on Open, as it
// does for a real binding.
func (h *Hub) Dialer() transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, cred credential.Credential) (transport.Client, error) {
		h.countDial()
		return newClient(h, cred), nil
	})
}

// RevokeKey marks a shared access key as invalid. Handles using it fail
// to open and report unauthorized on close.
func (h *Hub) RevokeKey(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revoked[key] = true
}

// SetDisabled marks the device as disabled in the registry.
func (h *Hub) SetDisabled(disabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disabled = disabled
}

// SetDesired replaces the desired properties, bumps the version and
// notifies the attached client. Returns the new version.
func (h *Hub) SetDesired(values map[string]any) int64 {
	h.mu.Lock()
	h.desired.Version++
	h.desired.Values = values
	update := h.snapshotDesiredLocked()
	client := h.attached
	h.mu.Unlock()

	if client != nil {
		client.notifyDesired(update)
	}
	return update.Version
}

// Desired returns the current desired properties.
func (h *Hub) Desired() twin.DesiredProperties {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotDesiredLocked()
}

// Reported returns a copy of the reported properties.
func (h *Hub) Reported() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]any, len(h.reported))
	for k, v := range h.reported {
		out[k] = v
	}
	return out
}

// Telemetry returns the device-to-cloud messages received so far.
func (h *Hub) Telemetry() []transport.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]transport.Message, len(h.telemetry))
	copy(out, h.telemetry)
	return out
}

// EnqueueC2D delivers a cloud-to-device message: pushed through the
// attached client's message callback when one is registered, otherwise
// queued for the next Receive.
func (h *Hub) EnqueueC2D(msg transport.Message) {
	h.mu.Lock()
	client := h.attached
	h.mu.Unlock()

	if client != nil && client.pushMessage(msg) {
		return
	}

	h.mu.Lock()
	h.c2d = append(h.c2d, msg)
	h.mu.Unlock()
}

// Dials returns how many handles have been constructed.
func (h *Hub) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// DropConnection severs the attached client and reports the given reason
// with DISCONNECTED status. No-op when no client is attached.
func (h *Hub) DropConnection(reason transport.Reason) {
	h.mu.Lock()
	client := h.attached
	h.attached = nil
	h.mu.Unlock()

	if client != nil {
		client.drop(transport.StatusChange{
			Status: transport.StatusDisconnected,
			Reason: reason,
		})
	}
}

// Degrade reports DISCONNECTED_RETRYING on the attached client without
// severing it: the transport's own retry is assumed to be in progress.
func (h *Hub) Degrade() {
	h.mu.Lock()
	client := h.attached
	h.mu.Unlock()

	if client != nil {
		client.degrade()
	}
}

// Restore reports CONNECTED on the attached client after a Degrade.
func (h *Hub) Restore() {
	h.mu.Lock()
	client := h.attached
	h.mu.Unlock()

	if client != nil {
		client.restore()
	}
}

// Attached reports whether a client is currently attached.
func (h *Hub) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attached != nil
}

func (h *Hub) snapshotDesiredLocked() twin.DesiredProperties {
	values := make(map[string]any, len(h.desired.Values))
	for k, v := range h.desired.Values {
		values[k] = v
	}
	return twin.DesiredProperties{Version: h.desired.Version, Values: values}
}

// keyRevoked reports whether the credential's key has been revoked.
func (h *Hub) keyRevoked(cred credential.Credential) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked[cred.Key]
}

// attach registers the client as the hub's live connection, replacing any
// previous one.
func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.attached = c
	h.mu.Unlock()
}

// detach removes the client if it is the attached one.
func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	if h.attached == c {
		h.attached = nil
	}
	h.mu.Unlock()
}

// deviceDisabled reports whether the device is disabled in the registry.
func (h *Hub) deviceDisabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disabled
}

// acceptTelemetry stores a device-to-cloud message.
func (h *Hub) acceptTelemetry(msg transport.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.telemetry = append(h.telemetry, msg)
}

// nextC2D pops the next cloud-to-device message, or nil.
func (h *Hub) nextC2D() *transport.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.c2d) == 0 {
		return nil
	}
	msg := h.c2d[0]
	h.c2d = h.c2d[1:]
	return &msg
}

// mergeReported merges a reported-property patch into the twin.
func (h *Hub) mergeReported(patch twin.Patch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range patch {
		h.reported[k] = v
	}
}

// countDial increments the dial counter.
func (h *Hub) countDial() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dials++
}
