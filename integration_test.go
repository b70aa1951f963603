package halo_test

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halo-iot/halo-go/pkg/config"
	"github.com/halo-iot/halo-go/pkg/halolog"
	"github.com/halo-iot/halo-go/pkg/lifecycle"
	"github.com/halo-iot/halo-go/pkg/persistence"
	"github.com/halo-iot/halo-go/pkg/retry"
	"github.com/halo-iot/halo-go/pkg/transport"
	"github.com/halo-iot/halo-go/pkg/transport/loopback"
	"github.com/halo-iot/halo-go/pkg/twin"
)

const integrationConfigYAML = `
device_id: thermo-e2e-01
hub_host: hub.example.halo.dev
credentials:
  - label: primary
    key: cHJpbWFyeS1rZXk=
  - label: secondary
    key: c2Vjb25kYXJ5LWtleQ==
retry:
  max_retries: 50
  exponent_clamp: 4
telemetry_interval: 1s
`

// TestE2E_ConfigToConnectedDevice walks the full startup path: parse the
// YAML config, build the credential set and retry policy from it, bring
// up a lifecycle manager against an in-process hub, and verify that
// desired-property updates flow back out as reported properties and that
// the event log captures the session.
func TestE2E_ConfigToConnectedDevice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Parse([]byte(integrationConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "thermo-e2e-01", cfg.DeviceID)
	assert.Equal(t, time.Second, cfg.TelemetryInterval.Std())

	creds, err := cfg.CredentialSet()
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "events.cbor")
	fileLogger, err := halolog.NewFileLogger(logPath)
	require.NoError(t, err)

	hub := loopback.NewHub()
	manager, err := lifecycle.NewManager(ctx, lifecycle.Config{
		DeviceID:    cfg.DeviceID,
		Dialer:      hub.Dialer(),
		Credentials: creds,
		Policy:      cfg.BackoffPolicy(),
		Logger:      fileLogger,
	})
	require.NoError(t, err)

	require.NoError(t, manager.Initialize(ctx))
	require.Eventually(t, manager.Ready, 5*time.Second, 10*time.Millisecond,
		"manager never became ready")

	// A desired-property change must be echoed into reported properties.
	hub.SetDesired(map[string]any{"setpoint": "21.5"})
	require.Eventually(t, func() bool {
		return hub.Reported()["setpoint"] == "21.5"
	}, 5*time.Second, 10*time.Millisecond, "desired update never echoed")
	assert.EqualValues(t, 2, manager.Watermark().Version())

	// Telemetry goes through the live handle.
	require.NoError(t, manager.Send(ctx, transport.NewMessage([]byte("temp=20.9"))))
	telemetry := hub.Telemetry()
	require.Len(t, telemetry, 1)
	assert.Equal(t, "temp=20.9", string(telemetry[0].Payload))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, manager.Close(closeCtx))
	manager.Wait()
	require.NoError(t, fileLogger.Close())

	// The session left a readable event trail.
	reader, err := halolog.NewReader(logPath)
	require.NoError(t, err)
	defer reader.Close()

	categories := map[halolog.Category]int{}
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		categories[event.Category]++
	}
	assert.Greater(t, categories[halolog.CategoryStateChange], 0, "no state-change events logged")
	assert.Greater(t, categories[halolog.CategoryTwin], 0, "no twin events logged")
}

// TestE2E_CredentialRolloverAcrossRestart verifies that a rejected primary
// key rolls over to the secondary, that the rollover and twin watermark
// survive a restart via the persisted state file, and that the restarted
// device does not retry the dead key.
func TestE2E_CredentialRolloverAcrossRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Parse([]byte(integrationConfigYAML))
	require.NoError(t, err)

	creds, err := cfg.CredentialSet()
	require.NoError(t, err)
	primary, err := creds.Head()
	require.NoError(t, err)

	hub := loopback.NewHub()
	manager, err := lifecycle.NewManager(ctx, lifecycle.Config{
		DeviceID:    cfg.DeviceID,
		Dialer:      hub.Dialer(),
		Credentials: creds,
		Policy:      cfg.BackoffPolicy(),
	})
	require.NoError(t, err)

	require.NoError(t, manager.Initialize(ctx))
	require.Eventually(t, manager.Ready, 5*time.Second, 10*time.Millisecond)
	hub.SetDesired(map[string]any{"mode": "eco"})
	require.Eventually(t, func() bool {
		return manager.Watermark().Version() == 2
	}, 5*time.Second, 10*time.Millisecond)

	// The hub revokes the primary key mid-session.
	hub.RevokeKey(primary.Key)
	hub.DropConnection(transport.ReasonBadCredential)

	require.Eventually(t, func() bool {
		return hub.Dials() == 2 && manager.Ready()
	}, 10*time.Second, 10*time.Millisecond, "never reconnected with secondary")
	assert.Equal(t, 1, creds.Discarded())

	// Shut down and persist runtime state.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, manager.Close(closeCtx))
	closeCancel()
	manager.Wait()

	statePath := filepath.Join(t.TempDir(), "state.json")
	store := persistence.NewDeviceStateStore(statePath)
	require.NoError(t, store.Save(&persistence.DeviceState{
		TwinVersion:          manager.Watermark().Version(),
		DiscardedCredentials: creds.Discarded(),
		LastConnectedAt:      time.Now(),
	}))

	// Restart: fresh credential set from config, persisted state applied.
	state, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, state)

	creds2, err := cfg.CredentialSet()
	require.NoError(t, err)
	creds2.DiscardFirst(state.DiscardedCredentials)
	head, err := creds2.Head()
	require.NoError(t, err)
	assert.Equal(t, "secondary", head.Label, "restart must skip the revoked key")

	manager2, err := lifecycle.NewManager(ctx, lifecycle.Config{
		DeviceID:    cfg.DeviceID,
		Dialer:      hub.Dialer(),
		Credentials: creds2,
		Policy:      cfg.BackoffPolicy(),
		Watermark:   twin.RestoreWatermark(state.TwinVersion),
	})
	require.NoError(t, err)
	require.NoError(t, manager2.Initialize(ctx))
	require.Eventually(t, manager2.Ready, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, manager2.Watermark().Version())

	closeCtx2, closeCancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel2()
	require.NoError(t, manager2.Close(closeCtx2))
	manager2.Wait()
}

// TestE2E_TelemetryRidesOutReconnect verifies that sends issued while the
// connection is being re-established all land once the manager recovers.
func TestE2E_TelemetryRidesOutReconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Parse([]byte(integrationConfigYAML))
	require.NoError(t, err)
	creds, err := cfg.CredentialSet()
	require.NoError(t, err)

	hub := loopback.NewHub()
	var fatalMu sync.Mutex
	var fatal error
	manager, err := lifecycle.NewManager(ctx, lifecycle.Config{
		DeviceID:    cfg.DeviceID,
		Dialer:      hub.Dialer(),
		Credentials: creds,
		Policy:      cfg.BackoffPolicy(),
		OnFatal: func(err error) {
			fatalMu.Lock()
			fatal = err
			fatalMu.Unlock()
		},
	})
	require.NoError(t, err)

	require.NoError(t, manager.Initialize(ctx))
	require.Eventually(t, manager.Ready, 5*time.Second, 10*time.Millisecond)

	hub.DropConnection(transport.ReasonRetryExpired)

	// Sends queued behind the reconnect must succeed without the caller
	// observing the outage.
	executor := retry.NewExecutor(cfg.BackoffPolicy(), nil)
	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf("sample-%d", i)
		err := executor.Run(ctx, "send telemetry", func(ctx context.Context) error {
			return manager.Send(ctx, transport.NewMessage([]byte(payload)))
		}, manager.Ready)
		require.NoError(t, err, "send %d failed", i)
	}

	require.Eventually(t, func() bool {
		return len(hub.Telemetry()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, hub.Dials(), "expected exactly one reconnect")
	fatalMu.Lock()
	assert.NoError(t, fatal)
	fatalMu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, manager.Close(closeCtx))
	manager.Wait()
}
