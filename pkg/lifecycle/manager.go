package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/halo-iot/halo-go/pkg/backoff"
	"github.com/halo-iot/halo-go/pkg/credential"
	"github.com/halo-iot/halo-go/pkg/halolog"
	"github.com/halo-iot/halo-go/pkg/retry"
	"github.com/halo-iot/halo-go/pkg/transport"
	"github.com/halo-iot/halo-go/pkg/twin"
)

// Lifecycle errors.
var (
	ErrManagerClosed  = errors.New("lifecycle manager closed")
	ErrDeviceDisabled = errors.New("device disabled in hub registry")
)

// clientHolder wraps the handle for atomic replacement.
// Readers observe either the fully-old or fully-new handle.
type clientHolder struct {
	client transport.Client
}

// Config configures a Manager.
type Config struct {
	// DeviceID labels log events.
	DeviceID string

	// Dialer constructs new handles. Required.
	Dialer transport.Dialer

	// Credentials is the ordered candidate credential set. Required.
	Credentials *credential.Set

	// Policy drives initialization and reconciliation retries.
	// Nil means backoff.NewPolicy().
	Policy *backoff.Policy

	// Actions overrides the DISCONNECTED decision table.
	// Nil means DefaultActions().
	Actions Actions

	// Watermark is the desired-property watermark, typically restored
	// from persisted state. Nil means a fresh watermark.
	Watermark *twin.Watermark

	// OnMessage receives cloud-to-device messages. Optional.
	OnMessage func(transport.Message)

	// OnFatal is invoked exactly once when the manager hits an
	// unrecoverable condition (credentials exhausted, device
	// disabled). Typically cancels the process-wide context.
	OnFatal func(error)

	// Logger receives lifecycle events. Nil disables.
	Logger halolog.Logger
}

// Manager owns the transport client handle and orchestrates its lifecycle.
//
// Exactly one live handle exists at a time. Replacement happens only
// inside the initialization gate; all other operations read the current
// handle without the gate and treat "no usable handle" as a retryable
// condition.
type Manager struct {
	deviceID  string
	dialer    transport.Dialer
	creds     *credential.Set
	actions   Actions
	logger    halolog.Logger
	onMessage func(transport.Message)
	onFatal   func(error)
	fatalOnce sync.Once

	executor   *retry.Executor
	watermark  *twin.Watermark
	handler    *twin.Handler
	reconciler *twin.Reconciler

	// Bounds background status handling; cancelled on shutdown.
	runCtx context.Context

	// Initialization gate. The initNeeded flag is the double-checked
	// predicate, evaluated before and after acquiring the mutex.
	initMu     sync.Mutex
	initNeeded atomic.Bool

	connected atomic.Bool
	closed    atomic.Bool
	current   atomic.Pointer[clientHolder]

	// Tracks fire-and-forget status handlers so failures are
	// observable and shutdown can drain them.
	bg sync.WaitGroup
}

// NewManager creates a lifecycle manager. ctx bounds the background tasks
// spawned by status-change notifications; cancel it to stop them.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("lifecycle: dialer is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("lifecycle: credential set is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = backoff.NewPolicy()
	}
	if cfg.Actions == nil {
		cfg.Actions = DefaultActions()
	}
	if cfg.Watermark == nil {
		cfg.Watermark = twin.NewWatermark()
	}
	if cfg.Logger == nil {
		cfg.Logger = halolog.NoopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m := &Manager{
		deviceID:  cfg.DeviceID,
		dialer:    cfg.Dialer,
		creds:     cfg.Credentials,
		actions:   cfg.Actions,
		logger:    cfg.Logger,
		onMessage: cfg.OnMessage,
		onFatal:   cfg.OnFatal,
		executor:  retry.NewExecutor(cfg.Policy, cfg.Logger),
		watermark: cfg.Watermark,
		runCtx:    ctx,
	}
	m.handler = twin.NewHandler(cfg.Watermark, m.reportProperties, cfg.Logger)
	m.reconciler = twin.NewReconciler(m.getTwin, m.handler, cfg.Logger)
	m.initNeeded.Store(true)

	return m, nil
}

// Handle returns the current transport handle, or nil while none is live.
func (m *Manager) Handle() transport.Client {
	holder := m.current.Load()
	if holder == nil {
		return nil
	}
	return holder.client
}

// Ready reports whether the connection is currently usable. It is the
// readiness predicate for retry executors running send or twin operations.
func (m *Manager) Ready() bool {
	return m.connected.Load() && m.Handle() != nil
}

// Watermark returns the desired-property watermark.
func (m *Manager) Watermark() *twin.Watermark {
	return m.watermark
}

// Initialize establishes a fresh handle if one is needed.
//
// Safe to call from any goroutine; only one initialization executes at a
// time system-wide, and the double-checked predicate makes redundant calls
// no-ops (opening an already-initialized manager does not create a second
// live handle).
func (m *Manager) Initialize(ctx context.Context) error {
	client, err := m.replaceHandle(ctx)
	if err != nil || client == nil {
		return err
	}

	// Outside the critical section: these issue further asynchronous
	// calls, and subscriptions do not survive a handle replacement, so
	// they are redone on every new handle.
	if m.onMessage != nil {
		client.SetMessageCallback(m.onMessage)
	}
	client.SetDesiredPropertyCallback(m.onDesiredUpdate)
	return nil
}

// replaceHandle runs the critical section of initialization. Returns the
// new handle, or nil when no initialization was needed.
func (m *Manager) replaceHandle(ctx context.Context) (transport.Client, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if !m.needsInit() {
		return nil, nil
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if !m.needsInit() {
		return nil, nil
	}

	if old := m.Handle(); old != nil {
		m.connected.Store(false)
		m.current.Store(nil)
		// The old token may already be invalid, so an unauthorized
		// close failure is expected, not an error.
		if err := old.Close(ctx); err != nil && !errors.Is(err, transport.ErrUnauthorized) {
			return nil, fmt.Errorf("close superseded handle: %w", err)
		}
	}

	cred, err := m.creds.Head()
	if err != nil {
		return nil, err
	}

	client, err := m.dialer.Dial(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	// Bind the notification target to this handle so events from a
	// superseded handle can be recognized and ignored.
	client.SetStatusCallback(func(sc transport.StatusChange) {
		m.handleFrom(client, sc)
	})

	// Publish the handle before opening: status changes emitted during
	// Open must find it current. Readers that grab it early get
	// ErrNotConnected, which is retryable by design.
	m.current.Store(&clientHolder{client: client})

	if err := client.Open(ctx); err != nil {
		m.current.Store(nil)
		return nil, fmt.Errorf("open connection: %w", err)
	}

	m.initNeeded.Store(false)

	event := halolog.NewEvent(halolog.CategoryStateChange)
	event.ConnectionID = client.ID()
	event.DeviceID = m.deviceID
	event.Severity = halolog.SeverityInfo
	event.StateChange = &halolog.StateChangeEvent{
		Status: "INITIALIZED",
		Action: "handle replaced",
	}
	m.logger.Log(event)

	return client, nil
}

// needsInit is the double-checked initialization predicate.
func (m *Manager) needsInit() bool {
	return m.Handle() == nil || m.initNeeded.Load()
}

// HandleStatusChange processes one connection-status-change notification.
//
// Transports invoke it fire-and-forget on an arbitrary goroutine. The
// work runs on a tracked background goroutine so the transport is never
// blocked and failures are observable in the event log rather than lost.
func (m *Manager) HandleStatusChange(sc transport.StatusChange) {
	m.dispatch(func(ctx context.Context) {
		m.handleStatusChange(ctx, sc)
	})
}

// handleFrom is the notification target bound to each handle. Events from
// a handle that is no longer current are dropped: they describe a
// connection the manager has already replaced.
func (m *Manager) handleFrom(source transport.Client, sc transport.StatusChange) {
	m.dispatch(func(ctx context.Context) {
		if m.Handle() != source {
			return
		}
		m.handleStatusChange(ctx, sc)
	})
}

// dispatch runs fn on a tracked background goroutine that never panics
// out into the transport.
func (m *Manager) dispatch(fn func(ctx context.Context)) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logError("status handler", fmt.Errorf("panic: %v", r))
			}
		}()
		fn(m.runCtx)
	}()
}

func (m *Manager) handleStatusChange(ctx context.Context, sc transport.StatusChange) {
	switch sc.Status {
	case transport.StatusConnected:
		m.connected.Store(true)
		m.logState(sc, "reconcile twin", halolog.SeverityInfo)

		// Recover desired-property updates missed while disconnected.
		err := m.executor.Run(ctx, "twin reconciliation", m.reconciler.Reconcile, m.Ready)
		if err != nil && !cancelled(err) {
			m.logError("twin reconciliation", err)
		}

	case transport.StatusDisconnectedRetrying:
		// The transport is retrying autonomously. Touching the handle
		// here would race with its own reconnection.
		m.connected.Store(false)
		m.logState(sc, "wait for transport retry", halolog.SeverityInfo)

	case transport.StatusDisabled:
		// Gracefully closed by explicit request. A fresh Initialize
		// call is required to resume.
		m.connected.Store(false)
		m.logState(sc, "none", halolog.SeverityInfo)

	case transport.StatusDisconnected:
		m.connected.Store(false)
		m.dispatchDisconnected(ctx, sc)

	default:
		m.logState(sc, "unexpected status, no action", halolog.SeverityError)
	}
}

// dispatchDisconnected applies the per-reason decision table.
func (m *Manager) dispatchDisconnected(ctx context.Context, sc transport.StatusChange) {
	if _, known := m.actions[sc.Reason]; !known {
		m.logState(sc, "unexpected reason, no action", halolog.SeverityError)
		return
	}

	action := m.actions.forReason(sc.Reason)
	m.logState(sc, action.String(), halolog.SeverityWarn)

	switch action {
	case ActionRotateCredential:
		if remaining := m.creds.DiscardHead(); remaining == 0 {
			m.fatal(credential.ErrExhausted)
			return
		}
		m.reinitialize(ctx)

	case ActionFatal:
		if sc.Reason == transport.ReasonDeviceDisabled {
			m.fatal(ErrDeviceDisabled)
		} else {
			m.fatal(fmt.Errorf("unrecoverable status %s", sc))
		}

	case ActionReinitialize:
		m.reinitialize(ctx)

	case ActionNone:
	}
}

// reinitialize marks the handle for replacement and runs initialization
// under the retry executor. Cancellation-kind failures indicate
// intentional shutdown and are swallowed; a fatal credential state
// terminates the orchestration.
func (m *Manager) reinitialize(ctx context.Context) {
	m.initNeeded.Store(true)

	err := m.executor.Run(ctx, "client initialization", m.Initialize, nil)
	switch {
	case err == nil, cancelled(err):
	case errors.Is(err, credential.ErrExhausted):
		m.fatal(err)
	case errors.Is(err, ErrManagerClosed):
	default:
		m.logError("client initialization", err)
	}
}

// onDesiredUpdate is the live desired-property callback registered on
// every handle.
func (m *Manager) onDesiredUpdate(update twin.DesiredProperties) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()

		// Idempotence guard: a version at or below the watermark has
		// already been applied, possibly by a reconciliation pass.
		if update.Version <= m.watermark.Version() {
			event := halolog.NewEvent(halolog.CategoryTwin)
			event.DeviceID = m.deviceID
			event.Twin = &halolog.TwinEvent{
				LocalVersion:  m.watermark.Version(),
				ServerVersion: update.Version,
				Applied:       false,
			}
			m.logger.Log(event)
			return
		}

		if err := m.handler.OnUpdate(m.runCtx, update); err != nil {
			m.logError("desired property update", err)
		}
	}()
}

// Send sends a device-to-cloud message through the current handle.
// Returns transport.ErrNotConnected while the handle is mid-replacement;
// run under a retry executor gated by Ready to ride out reconnects.
func (m *Manager) Send(ctx context.Context, msg transport.Message) error {
	h := m.Handle()
	if h == nil {
		return transport.ErrNotConnected
	}
	return h.Send(ctx, msg)
}

// Receive returns the next cloud-to-device message from the current
// handle, or nil when none arrives within the transport's window.
func (m *Manager) Receive(ctx context.Context) (*transport.Message, error) {
	h := m.Handle()
	if h == nil {
		return nil, transport.ErrNotConnected
	}
	return h.Receive(ctx)
}

// Reconcile runs one twin reconciliation pass against the current handle.
func (m *Manager) Reconcile(ctx context.Context) error {
	return m.reconciler.Reconcile(ctx)
}

// Close closes the current handle exactly once and refuses further
// initialization. Pass a fresh, non-cancelled context: the signal that
// triggered shutdown is already cancelled and must not bound the final
// close.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.connected.Store(false)

	// Serialize with the initialization gate: an initialization already
	// past its double-check may still be dialing, and the handle it is
	// about to publish must not outlive the shutdown.
	m.initMu.Lock()
	defer m.initMu.Unlock()

	holder := m.current.Swap(nil)
	if holder == nil {
		return nil
	}
	if err := holder.client.Close(ctx); err != nil && !errors.Is(err, transport.ErrUnauthorized) {
		return err
	}
	return nil
}

// Wait blocks until all in-flight status handlers have finished.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// getTwin fetches the remote twin through the current handle.
func (m *Manager) getTwin(ctx context.Context) (*twin.Document, error) {
	h := m.Handle()
	if h == nil {
		return nil, transport.ErrNotConnected
	}
	return h.GetTwin(ctx)
}

// reportProperties writes a reported-property patch through the current
// handle.
func (m *Manager) reportProperties(ctx context.Context, patch twin.Patch) error {
	h := m.Handle()
	if h == nil {
		return transport.ErrNotConnected
	}
	return h.UpdateReportedProperties(ctx, patch)
}

// fatal signals fatal termination exactly once.
func (m *Manager) fatal(err error) {
	m.fatalOnce.Do(func() {
		event := halolog.NewEvent(halolog.CategoryError)
		event.DeviceID = m.deviceID
		event.Severity = halolog.SeverityError
		event.Error = &halolog.ErrorEventData{
			Context: "lifecycle",
			Message: err.Error(),
		}
		m.logger.Log(event)

		if m.onFatal != nil {
			m.onFatal(err)
		}
	})
}

func (m *Manager) logState(sc transport.StatusChange, action string, severity halolog.Severity) {
	event := halolog.NewEvent(halolog.CategoryStateChange)
	event.DeviceID = m.deviceID
	event.Severity = severity
	if h := m.Handle(); h != nil {
		event.ConnectionID = h.ID()
	}
	event.StateChange = &halolog.StateChangeEvent{
		Status: sc.Status.String(),
		Reason: sc.Reason.String(),
		Action: action,
	}
	m.logger.Log(event)
}

func (m *Manager) logError(context string, err error) {
	event := halolog.NewEvent(halolog.CategoryError)
	event.DeviceID = m.deviceID
	event.Severity = halolog.SeverityError
	event.Error = &halolog.ErrorEventData{
		Context: context,
		Message: err.Error(),
	}
	m.logger.Log(event)
}

// cancelled reports whether err is a cancellation-kind error.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
