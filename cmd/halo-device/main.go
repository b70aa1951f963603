// Command halo-device is a reference Halo device implementation.
//
// This command demonstrates a complete Halo-connected device with:
//   - CLI argument parsing
//   - Configuration file support
//   - Connection lifecycle management with credential rotation
//   - Desired-property reconciliation
//   - Simulated telemetry
//   - CBOR event logging
//
// The device runs against an in-process loopback hub so the full
// lifecycle (disconnects, credential rejection, twin updates) can be
// exercised without cloud access. Interactive mode exposes fault
// injection commands.
//
// Usage:
//
//	halo-device [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-device-id string  Device identity (default "halo-demo-device")
//	-key string        Base64 shared access key (repeatable via comma)
//	-state string      Runtime state file path
//	-event-log string  CBOR event log path
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-interactive       Start the interactive shell
//	-discover          Browse mDNS for a local edge hub before connecting
//
// Examples:
//
//	# Start with defaults and the interactive shell
//	halo-device -interactive
//
//	# Start from a configuration file
//	halo-device -config /etc/halo/device.yaml
//
//	# Discover a local edge hub via mDNS
//	halo-device -discover
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/halo-iot/halo-go/cmd/halo-device/interactive"
	"github.com/halo-iot/halo-go/pkg/config"
	"github.com/halo-iot/halo-go/pkg/discovery"
	"github.com/halo-iot/halo-go/pkg/halolog"
	"github.com/halo-iot/halo-go/pkg/lifecycle"
	"github.com/halo-iot/halo-go/pkg/persistence"
	"github.com/halo-iot/halo-go/pkg/retry"
	"github.com/halo-iot/halo-go/pkg/transport"
	"github.com/halo-iot/halo-go/pkg/transport/loopback"
	"github.com/halo-iot/halo-go/pkg/twin"
)

var flags struct {
	ConfigFile        string
	DeviceID          string
	Keys              string
	StateFile         string
	EventLog          string
	LogLevel          string
	Interactive       bool
	Discover          bool
	TelemetryInterval time.Duration
}

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.DeviceID, "device-id", "halo-demo-device", "Device identity")
	flag.StringVar(&flags.Keys, "key", "", "Base64 shared access keys, comma separated")
	flag.StringVar(&flags.StateFile, "state", "", "Runtime state file path")
	flag.StringVar(&flags.EventLog, "event-log", "", "CBOR event log path")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Start the interactive shell")
	flag.BoolVar(&flags.Discover, "discover", false, "Browse mDNS for a local edge hub before connecting")
	flag.DurationVar(&flags.TelemetryInterval, "telemetry-interval", 30*time.Second, "Telemetry send interval")
}

func main() {
	flag.Parse()

	cfg, err := resolveConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if flags.Discover {
		if hub, err := discoverHub(context.Background()); err != nil {
			log.Printf("No compatible edge hub found (%v); using %s", err, cfg.HubHost)
		} else {
			host := hub.Host
			if len(hub.Addresses) > 0 {
				host = hub.Addresses[0]
			}
			log.Printf("Discovered edge hub %q at %s:%d (API %s)",
				hub.HubID, host, hub.Port, hub.APIVersion)
			cfg.HubHost = host
		}
	}

	logger, closeLogger, err := setupLogging(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLogger()

	creds, err := cfg.CredentialSet()
	if err != nil {
		log.Fatalf("Invalid credentials: %v", err)
	}

	// Restore persisted runtime state
	var store *persistence.DeviceStateStore
	watermark := twin.NewWatermark()
	if cfg.StateFile != "" {
		store = persistence.NewDeviceStateStore(cfg.StateFile)
		state, err := store.Load()
		if err != nil {
			log.Fatalf("Failed to load state: %v", err)
		}
		if state != nil {
			if state.TwinVersion > 0 {
				watermark = twin.RestoreWatermark(state.TwinVersion)
			}
			creds.DiscardFirst(state.DiscardedCredentials)
			log.Printf("Restored state: twin version %d, %d credentials discarded",
				state.TwinVersion, state.DiscardedCredentials)
		}
	}

	// The demo hub lives in-process; real deployments supply a network
	// dialer here.
	hub := loopback.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := lifecycle.NewManager(ctx, lifecycle.Config{
		DeviceID:    cfg.DeviceID,
		Dialer:      hub.Dialer(),
		Credentials: creds,
		Policy:      cfg.BackoffPolicy(),
		Watermark:   watermark,
		OnMessage: func(msg transport.Message) {
			log.Printf("[C2D] %s", msg.Payload)
		},
		OnFatal: func(err error) {
			log.Printf("FATAL: %v", err)
			cancel()
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("Failed to create lifecycle manager: %v", err)
	}

	log.Println("Halo Reference Device")
	log.Printf("Device ID: %s", cfg.DeviceID)
	log.Printf("Hub: %s", cfg.HubHost)
	log.Printf("Credentials: %d", creds.Remaining())

	executor := retry.NewExecutor(cfg.BackoffPolicy(), logger)
	if err := executor.Run(ctx, "client initialization", manager.Initialize, nil); err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	log.Println("Connected")

	go runTelemetry(ctx, manager, executor, cfg.TelemetryInterval.Std())

	if flags.Interactive {
		shell, err := interactive.New(manager, hub, creds)
		if err != nil {
			log.Fatalf("Failed to start interactive shell: %v", err)
		}
		log.SetOutput(shell.Stdout())
		shell.Run(ctx, cancel)
	} else {
		// Wait for shutdown signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Printf("Received signal: %v", sig)
		case <-ctx.Done():
		}
	}

	log.Println("Shutting down...")
	cancel()

	// Close with a fresh context: the run context is already cancelled.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := manager.Close(closeCtx); err != nil {
		log.Printf("Error closing: %v", err)
	}
	manager.Wait()

	if store != nil {
		err := store.Save(&persistence.DeviceState{
			TwinVersion:          manager.Watermark().Version(),
			DiscardedCredentials: creds.Discarded(),
		})
		if err != nil {
			log.Printf("Error saving state: %v", err)
		}
	}

	log.Println("Goodbye!")
}

// resolveConfig merges the config file with flag overrides.
func resolveConfig() (*config.Config, error) {
	if flags.ConfigFile != "" {
		return config.Load(flags.ConfigFile)
	}

	cfg := &config.Config{
		DeviceID:          flags.DeviceID,
		HubHost:           "loopback.local",
		TelemetryInterval: config.Duration(flags.TelemetryInterval),
		StateFile:         flags.StateFile,
		EventLog:          flags.EventLog,
	}

	if flags.Keys == "" {
		// Demo keys for the loopback hub
		cfg.Credentials = []config.CredentialConfig{
			{Label: "primary", Key: base64.StdEncoding.EncodeToString([]byte("demo-primary"))},
			{Label: "secondary", Key: base64.StdEncoding.EncodeToString([]byte("demo-secondary"))},
		}
	} else {
		for i, key := range strings.Split(flags.Keys, ",") {
			cfg.Credentials = append(cfg.Credentials, config.CredentialConfig{
				Label: fmt.Sprintf("key-%d", i),
				Key:   strings.TrimSpace(key),
			})
		}
	}

	return cfg, nil
}

// discoverHub browses the local network for an edge hub advertising a
// compatible API version.
func discoverHub(ctx context.Context) (*discovery.HubService, error) {
	browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{})
	if err != nil {
		return nil, err
	}

	browseCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	hubs, err := browser.BrowseHubs(browseCtx)
	if err != nil {
		return nil, err
	}
	return pickCompatibleHub(browseCtx, hubs)
}

// pickCompatibleHub returns the first browsed hub this device can talk
// to, skipping hubs with an incompatible API major version.
func pickCompatibleHub(ctx context.Context, hubs <-chan *discovery.HubService) (*discovery.HubService, error) {
	for {
		select {
		case hub, ok := <-hubs:
			if !ok {
				return nil, discovery.ErrNotFound
			}
			if !hub.Compatible() {
				log.Printf("Skipping hub %q: API %s is incompatible", hub.HubID, hub.APIVersion)
				continue
			}
			return hub, nil
		case <-ctx.Done():
			return nil, discovery.ErrNotFound
		}
	}
}

// setupLogging builds the event logger: structured stderr output, plus
// the CBOR file log when configured.
func setupLogging(cfg *config.Config) (halolog.Logger, func(), error) {
	level := slog.LevelInfo
	switch flags.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	adapter := halolog.NewSlogAdapter(slogger)

	if cfg.EventLog == "" {
		return adapter, func() {}, nil
	}

	fileLogger, err := halolog.NewFileLogger(cfg.EventLog)
	if err != nil {
		return nil, nil, err
	}
	multi := halolog.NewMultiLogger(adapter, fileLogger)
	return multi, func() { _ = fileLogger.Close() }, nil
}

// runTelemetry sends a reading on every tick, riding out reconnects
// under the readiness-gated executor.
func runTelemetry(ctx context.Context, manager *lifecycle.Manager, executor *retry.Executor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			payload := fmt.Sprintf("seq=%d temp=%.1f", seq, 20.0+float64(seq%10)/2)
			err := executor.Run(ctx, "send telemetry", func(ctx context.Context) error {
				return manager.Send(ctx, transport.NewMessage([]byte(payload)))
			}, manager.Ready)
			if err != nil && ctx.Err() == nil {
				log.Printf("Telemetry send failed: %v", err)
			}
		}
	}
}
