package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/halo-iot/halo-go/pkg/backoff"
	"github.com/halo-iot/halo-go/pkg/credential"
	"github.com/halo-iot/halo-go/pkg/halolog"
	"github.com/halo-iot/halo-go/pkg/retry"
	"github.com/halo-iot/halo-go/pkg/transport"
	"github.com/halo-iot/halo-go/pkg/transport/loopback"
)

func testCred(label string) credential.Credential {
	return credential.Credential{
		DeviceID: "device-1",
		HubHost:  "loopback.local",
		Key:      base64.StdEncoding.EncodeToString([]byte("key-" + label)),
		Label:    label,
	}
}

// fixture wires a manager to a loopback hub.
type fixture struct {
	hub     *Hub
	manager *Manager
	cancel  context.CancelFunc

	mu       sync.Mutex
	fatalErr error
}

// Hub aliases the loopback hub for brevity.
type Hub = loopback.Hub

func newFixture(t *testing.T, creds ...credential.Credential) *fixture {
	t.Helper()

	if len(creds) == 0 {
		creds = []credential.Credential{testCred("primary")}
	}
	set, err := credential.NewSet(creds...)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	hub := loopback.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{hub: hub, cancel: cancel}

	manager, err := NewManager(ctx, Config{
		DeviceID:    "device-1",
		Dialer:      hub.Dialer(),
		Credentials: set,
		OnFatal: func(err error) {
			f.mu.Lock()
			f.fatalErr = err
			f.mu.Unlock()
			cancel()
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.manager = manager

	t.Cleanup(func() {
		cancel()
		manager.Close(context.Background())
		manager.Wait()
	})
	return f
}

func (f *fixture) fatal() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fatalErr
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", what)
}

func TestInitializeIdempotent(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	handle := f.manager.Handle()
	if handle == nil {
		t.Fatal("no handle after Initialize")
	}

	// A second call without an intervening disconnect must be a no-op:
	// same handle, no second dial.
	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if f.manager.Handle() != handle {
		t.Error("second Initialize replaced a healthy handle")
	}
	if f.hub.Dials() != 1 {
		t.Errorf("dials = %d, want 1", f.hub.Dials())
	}

	eventually(t, "manager ready", f.manager.Ready)
}

func TestConcurrentInitialize(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.manager.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Initialize %d: %v", i, err)
		}
	}
	if f.hub.Dials() != 1 {
		t.Errorf("dials = %d, want exactly 1 under racing triggers", f.hub.Dials())
	}
}

func TestReinitializeOnRetryExpired(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	first := f.manager.Handle()

	f.hub.DropConnection(transport.ReasonRetryExpired)

	eventually(t, "handle replaced", func() bool {
		h := f.manager.Handle()
		return h != nil && h != first && f.manager.Ready()
	})
	if f.hub.Dials() != 2 {
		t.Errorf("dials = %d, want 2", f.hub.Dials())
	}
}

func TestNoReinitDuringTransportRetry(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	handle := f.manager.Handle()

	// The transport retries autonomously; the manager must not touch
	// the handle.
	f.hub.Degrade()

	eventually(t, "readiness cleared", func() bool { return !f.manager.Ready() })

	f.manager.Wait()
	if f.manager.Handle() != handle {
		t.Error("handle replaced during transport-level retry")
	}
	if f.hub.Dials() != 1 {
		t.Errorf("dials = %d, want 1", f.hub.Dials())
	}
	if !f.hub.Attached() {
		t.Error("client detached during transport-level retry")
	}

	f.hub.Restore()
	eventually(t, "readiness restored", f.manager.Ready)
}

func TestCredentialRotationAndExhaustion(t *testing.T) {
	primary := testCred("primary")
	secondary := testCred("secondary")
	f := newFixture(t, primary, secondary)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// First rejection: discard primary, re-initialize with secondary.
	// The revoked key also makes the close of the old handle fail
	// unauthorized, which the manager must tolerate.
	f.hub.RevokeKey(primary.Key)
	f.hub.DropConnection(transport.ReasonBadCredential)

	eventually(t, "reconnected with secondary", func() bool {
		return f.manager.Ready() && f.hub.Dials() == 2
	})
	if f.fatal() != nil {
		t.Fatalf("fatal after first rejection: %v", f.fatal())
	}

	// Second rejection: no candidates remain, fatal termination.
	f.hub.RevokeKey(secondary.Key)
	f.hub.DropConnection(transport.ReasonBadCredential)

	eventually(t, "fatal termination", func() bool {
		return errors.Is(f.fatal(), credential.ErrExhausted)
	})
	f.manager.Wait()
	if f.hub.Dials() != 2 {
		t.Errorf("dials = %d, want 2 (no dial after exhaustion)", f.hub.Dials())
	}
}

func TestDeviceDisabledIsFatal(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	f.hub.DropConnection(transport.ReasonDeviceDisabled)

	eventually(t, "fatal termination", func() bool {
		return errors.Is(f.fatal(), ErrDeviceDisabled)
	})
}

func TestUnrecognizedReasonTakesNoAction(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	f.hub.DropConnection(transport.ReasonUnknown)
	f.manager.Wait()

	if f.hub.Dials() != 1 {
		t.Errorf("dials = %d, want 1 (no corrective action)", f.hub.Dials())
	}
	if f.fatal() != nil {
		t.Errorf("fatal = %v, want none", f.fatal())
	}
}

func TestCustomActionTable(t *testing.T) {
	// COMMUNICATION_ERROR mapped to no action instead of the default
	// re-initialization.
	set, err := credential.NewSet(testCred("primary"))
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	hub := loopback.NewHub()
	actions := DefaultActions()
	actions[transport.ReasonCommunicationError] = ActionNone

	manager, err := NewManager(context.Background(), Config{
		Dialer:      hub.Dialer(),
		Credentials: set,
		Actions:     actions,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer func() {
		manager.Close(context.Background())
		manager.Wait()
	}()

	if err := manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	hub.DropConnection(transport.ReasonCommunicationError)
	manager.Wait()

	if hub.Dials() != 1 {
		t.Errorf("dials = %d, want 1 (action overridden to none)", hub.Dials())
	}
}

func TestTwinReconciliationOnConnect(t *testing.T) {
	f := newFixture(t)

	// Desired state written while the device is offline
	f.hub.SetDesired(map[string]any{"interval": 60, "mode": "eco"})

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Reconciliation echoes the missed update into reported properties
	eventually(t, "reported properties reconciled", func() bool {
		reported := f.hub.Reported()
		return reported["interval"] == 60 && reported["mode"] == "eco"
	})
	if v := f.manager.Watermark().Version(); v != 2 {
		t.Errorf("watermark = %d, want 2", v)
	}
}

func TestLiveDesiredUpdate(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	eventually(t, "ready", f.manager.Ready)

	f.hub.SetDesired(map[string]any{"mode": "boost"})

	eventually(t, "live update echoed", func() bool {
		return f.hub.Reported()["mode"] == "boost"
	})
	eventually(t, "watermark advanced", func() bool {
		return f.manager.Watermark().Version() == 2
	})
}

func TestStaleDesiredUpdateIgnored(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	eventually(t, "ready", f.manager.Ready)

	f.hub.SetDesired(map[string]any{"mode": "eco"})
	eventually(t, "update applied", func() bool {
		return f.manager.Watermark().Version() == 2
	})

	// A replayed update at the same version must not be re-applied
	f.manager.Wait()
	before := f.hub.Reported()

	f.manager.onDesiredUpdate(f.hub.Desired())
	f.manager.Wait()

	if f.manager.Watermark().Version() != 2 {
		t.Errorf("watermark moved on stale update: %d", f.manager.Watermark().Version())
	}
	after := f.hub.Reported()
	if len(after) != len(before) {
		t.Errorf("stale update changed reported properties: %v -> %v", before, after)
	}
}

func TestSendRidesOutReconnect(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	eventually(t, "ready", f.manager.Ready)

	// Sever the connection, then send under a readiness-gated retry
	// executor while the manager re-initializes in the background.
	f.hub.DropConnection(transport.ReasonCommunicationError)

	exec := retry.NewExecutor(backoff.NewPolicy(), halolog.NoopLogger{})
	err := exec.Run(context.Background(), "send telemetry", func(ctx context.Context) error {
		return f.manager.Send(ctx, transport.NewMessage([]byte("t=21.5")))
	}, f.manager.Ready)
	if err != nil {
		t.Fatalf("send under retry: %v", err)
	}

	telemetry := f.hub.Telemetry()
	if len(telemetry) != 1 || string(telemetry[0].Payload) != "t=21.5" {
		t.Errorf("telemetry = %v", telemetry)
	}
}

func TestCloseExactlyOnce(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := f.manager.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.manager.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	if err := f.manager.Initialize(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Initialize after Close = %v, want ErrManagerClosed", err)
	}
	if f.manager.Handle() != nil {
		t.Error("handle survives Close")
	}
}

func TestCloseDuringInitializeDestroysFreshHandle(t *testing.T) {
	set, err := credential.NewSet(testCred("primary"))
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	// Dialer that parks in Dial until released, holding the
	// initialization gate open while Close runs concurrently.
	hub := loopback.NewHub()
	dialing := make(chan struct{})
	release := make(chan struct{})
	dialer := transport.DialerFunc(func(ctx context.Context, cred credential.Credential) (transport.Client, error) {
		close(dialing)
		<-release
		return hub.Dialer().Dial(ctx, cred)
	})

	manager, err := NewManager(context.Background(), Config{
		Dialer:      dialer,
		Credentials: set,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	initDone := make(chan error, 1)
	go func() {
		initDone <- manager.Initialize(context.Background())
	}()
	<-dialing

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- manager.Close(context.Background())
	}()

	// Close must wait for the in-flight initialization, not race past it.
	select {
	case err := <-closeDone:
		t.Fatalf("Close returned %v while a dial was in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-initDone; err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := <-closeDone; err != nil {
		t.Fatalf("Close: %v", err)
	}
	manager.Wait()

	// The handle published by the overlapping initialization must not
	// outlive the shutdown.
	if manager.Handle() != nil {
		t.Error("handle survives Close")
	}
	if hub.Attached() {
		t.Error("hub still has a live handle attached after Close")
	}
	if err := manager.Initialize(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Initialize after Close = %v, want ErrManagerClosed", err)
	}
}

func TestCloseWithRevokedCredentialSucceeds(t *testing.T) {
	cred := testCred("primary")
	f := newFixture(t, cred)

	if err := f.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// The final close runs against an already-invalidated token; the
	// unauthorized failure is expected and swallowed.
	f.hub.RevokeKey(cred.Key)
	if err := f.manager.Close(context.Background()); err != nil {
		t.Errorf("Close with revoked credential = %v, want nil", err)
	}
}
