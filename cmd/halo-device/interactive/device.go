// Package interactive provides the interactive command-line interface
// for the halo-device command.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/halo-iot/halo-go/pkg/credential"
	"github.com/halo-iot/halo-go/pkg/lifecycle"
	"github.com/halo-iot/halo-go/pkg/transport"
	"github.com/halo-iot/halo-go/pkg/transport/loopback"
)

// Device handles interactive mode for halo-device.
type Device struct {
	manager *lifecycle.Manager
	hub     *loopback.Hub
	creds   *credential.Set
	rl      *readline.Instance
}

// New creates a new interactive device handler.
func New(manager *lifecycle.Manager, hub *loopback.Hub, creds *credential.Set) (*Device, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "device> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Device{
		manager: manager,
		hub:     hub,
		creds:   creds,
		rl:      rl,
	}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (d *Device) Stdout() io.Writer {
	return d.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (d *Device) Stderr() io.Writer {
	return d.rl.Stderr()
}

// Run starts the interactive command loop.
func (d *Device) Run(ctx context.Context, cancel context.CancelFunc) {
	defer d.rl.Close()

	d.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := d.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(d.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			d.printHelp()

		case "status", "s":
			d.cmdStatus()

		case "twin", "t":
			d.cmdTwin(args)

		case "desired":
			d.cmdDesired(args)

		case "send":
			d.cmdSend(args)

		case "c2d":
			d.cmdC2D(args)

		case "drop":
			d.cmdDrop(args)

		case "degrade":
			d.hub.Degrade()
			fmt.Fprintln(d.rl.Stdout(), "Transport degraded (retrying)")

		case "restore":
			d.hub.Restore()
			fmt.Fprintln(d.rl.Stdout(), "Transport restored")

		case "revoke":
			d.cmdRevoke()

		case "disable":
			d.hub.SetDisabled(true)
			fmt.Fprintln(d.rl.Stdout(), "Device disabled in registry")

		case "quit", "exit", "q":
			fmt.Fprintln(d.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(d.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (d *Device) printHelp() {
	fmt.Fprintln(d.rl.Stdout(), `
Halo Device Commands:
  Inspection:
    status             - Show connection state and credentials
    twin               - Show the twin document

  Twin:
    desired <k> <v>    - Write a desired property on the hub
    send <payload>     - Send a telemetry message
    c2d <payload>      - Enqueue a cloud-to-device message

  Fault Injection:
    drop <reason>      - Sever the connection (retry-expired,
                         bad-credential, comm-error, disabled)
    degrade            - Report transport-level retry in progress
    restore            - Recover from degrade
    revoke             - Revoke the active shared access key
    disable            - Disable the device in the registry

  General:
    help               - Show this help
    quit               - Exit device`)
}

// cmdStatus shows the connection state.
func (d *Device) cmdStatus() {
	out := d.rl.Stdout()

	state := "not connected"
	if d.manager.Ready() {
		state = "connected"
	} else if d.manager.Handle() != nil {
		state = "handle live, not ready"
	}

	fmt.Fprintln(out, "\nDevice Status")
	fmt.Fprintln(out, "-------------------------------------------")
	fmt.Fprintf(out, "  Connection:   %s\n", state)
	fmt.Fprintf(out, "  Twin version: %d\n", d.manager.Watermark().Version())
	fmt.Fprintf(out, "  Credentials:  %d remaining, %d discarded\n",
		d.creds.Remaining(), d.creds.Discarded())
	fmt.Fprintf(out, "  Hub dials:    %d\n", d.hub.Dials())
	fmt.Fprintln(out)
}

// cmdTwin shows the twin document.
func (d *Device) cmdTwin(_ []string) {
	out := d.rl.Stdout()

	desired := d.hub.Desired()
	reported := d.hub.Reported()

	fmt.Fprintf(out, "\nDesired (version %d):\n", desired.Version)
	for k, v := range desired.Values {
		fmt.Fprintf(out, "  %s = %v\n", k, v)
	}
	fmt.Fprintln(out, "Reported:")
	for k, v := range reported {
		fmt.Fprintf(out, "  %s = %v\n", k, v)
	}
	fmt.Fprintln(out)
}

// cmdDesired writes a desired property on the hub.
func (d *Device) cmdDesired(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: desired <key> <value>")
		return
	}

	values := d.hub.Desired().Values
	values[args[0]] = strings.Join(args[1:], " ")
	version := d.hub.SetDesired(values)
	fmt.Fprintf(d.rl.Stdout(), "Desired version %d\n", version)
}

// cmdSend sends a telemetry message.
func (d *Device) cmdSend(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: send <payload>")
		return
	}

	payload := strings.Join(args, " ")
	err := d.manager.Send(context.Background(), transport.NewMessage([]byte(payload)))
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Send failed: %v\n", err)
		return
	}
	fmt.Fprintln(d.rl.Stdout(), "OK")
}

// cmdC2D enqueues a cloud-to-device message on the hub.
func (d *Device) cmdC2D(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: c2d <payload>")
		return
	}

	payload := strings.Join(args, " ")
	d.hub.EnqueueC2D(transport.NewMessage([]byte(payload)))
	fmt.Fprintln(d.rl.Stdout(), "Enqueued")
}

// cmdDrop severs the connection with the given reason.
func (d *Device) cmdDrop(args []string) {
	reason := transport.ReasonRetryExpired
	if len(args) > 0 {
		switch args[0] {
		case "retry-expired":
			reason = transport.ReasonRetryExpired
		case "bad-credential":
			reason = transport.ReasonBadCredential
		case "comm-error":
			reason = transport.ReasonCommunicationError
		case "disabled":
			reason = transport.ReasonDeviceDisabled
		default:
			fmt.Fprintf(d.rl.Stdout(), "Unknown reason: %s\n", args[0])
			return
		}
	}

	d.hub.DropConnection(reason)
	fmt.Fprintf(d.rl.Stdout(), "Connection dropped: %s\n", reason)
}

// cmdRevoke revokes the active credential's key.
func (d *Device) cmdRevoke() {
	head, err := d.creds.Head()
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "No credential to revoke: %v\n", err)
		return
	}
	d.hub.RevokeKey(head.Key)
	fmt.Fprintf(d.rl.Stdout(), "Revoked key %q\n", head.Label)
}
