// Package commands implements the halo-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/halo-iot/halo-go/pkg/halolog"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Category    *halolog.Category
	MinSeverity *halolog.Severity
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event halolog.Event) {
	// Header line: timestamp [conn:id] SEVERITY CATEGORY
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	fmt.Fprintf(w, "%s [conn:%s] %-5s %s\n", ts, connID, event.Severity.String(), event.Category.String())

	// Type-specific details
	switch {
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Retry != nil:
		formatRetryDetails(w, event.Retry)
	case event.Twin != nil:
		formatTwinDetails(w, event.Twin)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatStateChangeDetails writes status change details.
func formatStateChangeDetails(w io.Writer, sc *halolog.StateChangeEvent) {
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Status: %s/%s\n", sc.Status, sc.Reason)
	} else {
		fmt.Fprintf(w, "  Status: %s\n", sc.Status)
	}
	if sc.Action != "" {
		fmt.Fprintf(w, "  Action: %s\n", sc.Action)
	}
}

// formatRetryDetails writes retry iteration details.
func formatRetryDetails(w io.Writer, r *halolog.RetryEvent) {
	fmt.Fprintf(w, "  Operation: %s\n", r.Operation)
	fmt.Fprintf(w, "  Attempt: %d (%s)\n", r.Attempt, r.Outcome)
	if r.Delay > 0 {
		fmt.Fprintf(w, "  Delay: %s\n", formatDuration(r.Delay))
	}
	if r.Failure != "" {
		fmt.Fprintf(w, "  Failure: %s\n", r.Failure)
	}
}

// formatTwinDetails writes twin reconciliation details.
func formatTwinDetails(w io.Writer, t *halolog.TwinEvent) {
	if t.ServerVersion > 0 {
		fmt.Fprintf(w, "  Versions: local %d, server %d\n", t.LocalVersion, t.ServerVersion)
	} else {
		fmt.Fprintf(w, "  Version: %d\n", t.LocalVersion)
	}
	if t.Applied {
		fmt.Fprintf(w, "  Applied: %d keys\n", t.Keys)
	} else {
		fmt.Fprintln(w, "  Applied: no")
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *halolog.ErrorEventData) {
	fmt.Fprintf(w, "  Context: %s\n", err.Context)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (halolog.Category, error) {
	switch strings.ToLower(s) {
	case "state":
		return halolog.CategoryStateChange, nil
	case "retry":
		return halolog.CategoryRetry, nil
	case "twin":
		return halolog.CategoryTwin, nil
	case "error":
		return halolog.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be state, retry, twin, or error)", s)
	}
}

// ParseSeverityFlag parses a severity string from command-line flag (case-insensitive).
func ParseSeverityFlag(s string) (halolog.Severity, error) {
	switch strings.ToLower(s) {
	case "debug":
		return halolog.SeverityDebug, nil
	case "info":
		return halolog.SeverityInfo, nil
	case "warn":
		return halolog.SeverityWarn, nil
	case "error":
		return halolog.SeverityError, nil
	default:
		return 0, fmt.Errorf("invalid severity: %s (must be debug, info, warn, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := halolog.NewFilteredReader(path, halolog.Filter{
		Category:    filter.Category,
		MinSeverity: filter.MinSeverity,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		formatEvent(output, event)
	}

	return nil
}
