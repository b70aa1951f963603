package halolog

import (
	"context"
	"log/slog"
)

// SlogAdapter writes SDK events to an slog.Logger.
// Useful for development when you want to see lifecycle events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
// Severity maps to the corresponding slog level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}

	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}

	msg := "sdk event"
	switch {
	case event.StateChange != nil:
		msg = "connection status"
		attrs = append(attrs,
			slog.String("status", event.StateChange.Status),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
		if event.StateChange.Action != "" {
			attrs = append(attrs, slog.String("action", event.StateChange.Action))
		}
	case event.Retry != nil:
		msg = "retry " + event.Retry.Outcome
		attrs = append(attrs,
			slog.String("operation", event.Retry.Operation),
			slog.Int("attempt", event.Retry.Attempt),
		)
		if event.Retry.Delay > 0 {
			attrs = append(attrs, slog.Duration("delay", event.Retry.Delay))
		}
		if event.Retry.Failure != "" {
			attrs = append(attrs, slog.String("failure", event.Retry.Failure))
		}
	case event.Twin != nil:
		msg = "twin"
		attrs = append(attrs,
			slog.Int64("local_version", event.Twin.LocalVersion),
			slog.Bool("applied", event.Twin.Applied),
		)
		if event.Twin.ServerVersion != 0 {
			attrs = append(attrs, slog.Int64("server_version", event.Twin.ServerVersion))
		}
		if event.Twin.Keys > 0 {
			attrs = append(attrs, slog.Int("keys", event.Twin.Keys))
		}
	case event.Error != nil:
		msg = "error"
		attrs = append(attrs,
			slog.String("context", event.Error.Context),
			slog.String("error", event.Error.Message),
		)
	}

	a.logger.LogAttrs(context.Background(), slogLevel(event.Severity), msg, attrs...)
}

// slogLevel maps an event severity to an slog level.
func slogLevel(s Severity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
