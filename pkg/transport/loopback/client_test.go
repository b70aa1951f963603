package loopback

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/halo-iot/halo-go/pkg/credential"
	"github.com/halo-iot/halo-go/pkg/transport"
	"github.com/halo-iot/halo-go/pkg/twin"
)

func testCred(label string) credential.Credential {
	return credential.Credential{
		DeviceID: "device-1",
		HubHost:  "loopback.local",
		Key:      base64.StdEncoding.EncodeToString([]byte("key-" + label)),
		Label:    label,
	}
}

func dialOpen(t *testing.T, hub *Hub, cred credential.Credential) *Client {
	t.Helper()

	raw, err := hub.Dialer().Dial(context.Background(), cred)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client := raw.(*Client)
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return client
}

// statusRecorder captures status changes in order.
type statusRecorder struct {
	mu      sync.Mutex
	changes []transport.StatusChange
}

func (r *statusRecorder) record(sc transport.StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, sc)
}

func (r *statusRecorder) all() []transport.StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.StatusChange, len(r.changes))
	copy(out, r.changes)
	return out
}

func TestOpenIdempotent(t *testing.T) {
	hub := NewHub()
	client := dialOpen(t, hub, testCred("primary"))

	if err := client.Open(context.Background()); err != nil {
		t.Errorf("second Open = %v, want nil", err)
	}
	if hub.Dials() != 1 {
		t.Errorf("dials = %d, want 1", hub.Dials())
	}
}

func TestOpenRevokedKey(t *testing.T) {
	hub := NewHub()
	cred := testCred("primary")
	hub.RevokeKey(cred.Key)

	raw, err := hub.Dialer().Dial(context.Background(), cred)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := raw.Open(context.Background()); !errors.Is(err, transport.ErrUnauthorized) {
		t.Errorf("Open with revoked key = %v, want ErrUnauthorized", err)
	}
}

func TestCloseTolerantOfRevocation(t *testing.T) {
	hub := NewHub()
	cred := testCred("primary")
	client := dialOpen(t, hub, cred)

	// Key revoked while the handle is live: close must report
	// unauthorized so callers can exercise their tolerance path.
	hub.RevokeKey(cred.Key)
	if err := client.Close(context.Background()); !errors.Is(err, transport.ErrUnauthorized) {
		t.Errorf("Close after revocation = %v, want ErrUnauthorized", err)
	}

	// Already closed: no-op
	if err := client.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestStatusSequence(t *testing.T) {
	hub := NewHub()
	recorder := &statusRecorder{}

	raw, err := hub.Dialer().Dial(context.Background(), testCred("primary"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client := raw.(*Client)
	client.SetStatusCallback(recorder.record)

	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	hub.Degrade()
	hub.Restore()
	hub.DropConnection(transport.ReasonRetryExpired)

	want := []transport.StatusChange{
		{Status: transport.StatusConnected, Reason: transport.ReasonOK},
		{Status: transport.StatusDisconnectedRetrying, Reason: transport.ReasonCommunicationError},
		{Status: transport.StatusConnected, Reason: transport.ReasonOK},
		{Status: transport.StatusDisconnected, Reason: transport.ReasonRetryExpired},
	}
	got := recorder.all()
	if len(got) != len(want) {
		t.Fatalf("got %d status changes %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSendWhileDropped(t *testing.T) {
	hub := NewHub()
	client := dialOpen(t, hub, testCred("primary"))

	hub.DropConnection(transport.ReasonCommunicationError)

	err := client.Send(context.Background(), transport.NewMessage([]byte("t=21.5")))
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Send on dropped handle = %v, want ErrNotConnected", err)
	}
}

func TestTwinRoundTrip(t *testing.T) {
	hub := NewHub()
	client := dialOpen(t, hub, testCred("primary"))

	version := hub.SetDesired(map[string]any{"interval": 30})
	if version != 2 {
		t.Errorf("SetDesired version = %d, want 2", version)
	}

	doc, err := client.GetTwin(context.Background())
	if err != nil {
		t.Fatalf("GetTwin: %v", err)
	}
	if doc.Desired.Version != 2 || doc.Desired.Values["interval"] != 30 {
		t.Errorf("twin = %+v", doc.Desired)
	}

	if err := client.UpdateReportedProperties(context.Background(), twin.Patch{"interval": 30}); err != nil {
		t.Fatalf("UpdateReportedProperties: %v", err)
	}
	if hub.Reported()["interval"] != 30 {
		t.Errorf("reported = %v", hub.Reported())
	}
}

func TestDesiredNotification(t *testing.T) {
	hub := NewHub()
	client := dialOpen(t, hub, testCred("primary"))

	var got twin.DesiredProperties
	client.SetDesiredPropertyCallback(func(u twin.DesiredProperties) {
		got = u
	})

	hub.SetDesired(map[string]any{"mode": "eco"})
	if got.Version != 2 || got.Values["mode"] != "eco" {
		t.Errorf("notified update = %+v", got)
	}
}

func TestC2DMessageDelivery(t *testing.T) {
	hub := NewHub()
	client := dialOpen(t, hub, testCred("primary"))

	t.Run("QueuedWithoutCallback", func(t *testing.T) {
		hub.EnqueueC2D(transport.NewMessage([]byte("queued")))

		msg, err := client.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if msg == nil || string(msg.Payload) != "queued" {
			t.Errorf("received %v", msg)
		}
	})

	t.Run("PushedToCallback", func(t *testing.T) {
		var pushed []string
		client.SetMessageCallback(func(msg transport.Message) {
			pushed = append(pushed, string(msg.Payload))
		})

		hub.EnqueueC2D(transport.NewMessage([]byte("pushed")))
		if len(pushed) != 1 || pushed[0] != "pushed" {
			t.Errorf("pushed = %v", pushed)
		}
	})

	t.Run("NoneWithinWindow", func(t *testing.T) {
		msg, err := client.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if msg != nil {
			t.Errorf("Receive = %v, want nil", msg)
		}
	})
}
