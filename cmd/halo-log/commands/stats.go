package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/halo-iot/halo-go/pkg/halolog"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByCategory map[halolog.Category]int
	EventsBySeverity map[halolog.Severity]int
	Connections      map[string]*ConnectionStats
	Retries          int
	RetryGiveUps     int
	TwinApplied      int
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	DeviceID  string
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := halolog.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory: make(map[halolog.Category]int),
		EventsBySeverity: make(map[halolog.Severity]int),
		Connections:      make(map[string]*ConnectionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByCategory[event.Category]++
		stats.EventsBySeverity[event.Severity]++

		// Track time range
		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		// Track connection stats
		conn, ok := stats.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			stats.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if event.DeviceID != "" && conn.DeviceID == "" {
			conn.DeviceID = event.DeviceID
		}

		// Count retry outcomes
		if event.Retry != nil {
			if event.Retry.Outcome == "retry" {
				stats.Retries++
			}
			if event.Retry.Outcome == "give-up" {
				stats.RetryGiveUps++
			}
		}

		// Count applied twin updates
		if event.Twin != nil && event.Twin.Applied {
			stats.TwinApplied++
		}

		// Count errors
		if event.Error != nil {
			stats.Errors++
		}
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Halo SDK Event Log Statistics ===")
	fmt.Fprintln(w)

	// Time range
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	// Total events
	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	// Events by category
	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []halolog.Category{halolog.CategoryStateChange, halolog.CategoryRetry, halolog.CategoryTwin, halolog.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	// Events by severity
	fmt.Fprintln(w, "Events by Severity:")
	for _, sev := range []halolog.Severity{halolog.SeverityDebug, halolog.SeverityInfo, halolog.SeverityWarn, halolog.SeverityError} {
		if count := stats.EventsBySeverity[sev]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", sev.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	// Retry and twin summaries
	if stats.Retries > 0 || stats.RetryGiveUps > 0 {
		fmt.Fprintf(w, "Retries: %d scheduled, %d gave up\n", stats.Retries, stats.RetryGiveUps)
	}
	if stats.TwinApplied > 0 {
		fmt.Fprintf(w, "Twin updates applied: %d\n", stats.TwinApplied)
	}
	if stats.Retries > 0 || stats.RetryGiveUps > 0 || stats.TwinApplied > 0 {
		fmt.Fprintln(w)
	}

	// Connections
	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		// Sort by first seen time
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w, "")
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			shortID := c.id
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}
			if shortID == "" {
				shortID = "-"
			}
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortID, c.stats.Events, duration)
			if c.stats.DeviceID != "" {
				fmt.Fprintf(w, "           Device: %s\n", c.stats.DeviceID)
			}
		}
	}

	// Errors
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
