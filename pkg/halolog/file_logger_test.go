package halolog

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func writeEvents(t *testing.T, path string, events []Event) {
	t.Helper()

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readAll(t *testing.T, path string, filter Filter) []Event {
	t.Helper()

	reader, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer reader.Close()

	var events []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.hlog")

	e1 := NewEvent(CategoryStateChange)
	e1.ConnectionID = "conn-1"
	e1.DeviceID = "device-1"
	e1.StateChange = &StateChangeEvent{Status: "CONNECTED", Reason: "OK"}

	e2 := NewEvent(CategoryRetry)
	e2.Retry = &RetryEvent{
		Operation: "send telemetry",
		Attempt:   3,
		Delay:     1500 * time.Millisecond,
		Outcome:   "retry",
		Failure:   "connection reset",
	}

	writeEvents(t, path, []Event{e1, e2})

	events := readAll(t, path, Filter{})
	if len(events) != 2 {
		t.Fatalf("read %d events, want 2", len(events))
	}

	if events[0].StateChange == nil || events[0].StateChange.Status != "CONNECTED" {
		t.Errorf("event 0 state change not preserved: %+v", events[0])
	}
	if events[0].ConnectionID != "conn-1" {
		t.Errorf("event 0 conn ID = %q, want conn-1", events[0].ConnectionID)
	}
	if events[1].Retry == nil || events[1].Retry.Attempt != 3 {
		t.Errorf("event 1 retry payload not preserved: %+v", events[1])
	}
	if events[1].Retry.Delay != 1500*time.Millisecond {
		t.Errorf("event 1 delay = %v, want 1.5s", events[1].Retry.Delay)
	}
}

func TestFileLoggerAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.hlog")

	writeEvents(t, path, []Event{NewEvent(CategoryError)})
	writeEvents(t, path, []Event{NewEvent(CategoryTwin)})

	events := readAll(t, path, Filter{})
	if len(events) != 2 {
		t.Fatalf("read %d events after append, want 2", len(events))
	}
}

func TestFileLoggerClosedIgnoresLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.hlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Must not panic or write
	logger.Log(NewEvent(CategoryError))
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if events := readAll(t, path, Filter{}); len(events) != 0 {
		t.Errorf("read %d events from closed logger, want 0", len(events))
	}
}

func TestReaderFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.hlog")

	retry := NewEvent(CategoryRetry)
	retry.ConnectionID = "conn-a"

	twin := NewEvent(CategoryTwin)
	twin.ConnectionID = "conn-b"

	errEvent := NewEvent(CategoryError)
	errEvent.ConnectionID = "conn-a"
	errEvent.Severity = SeverityError

	writeEvents(t, path, []Event{retry, twin, errEvent})

	t.Run("ByCategory", func(t *testing.T) {
		cat := CategoryTwin
		events := readAll(t, path, Filter{Category: &cat})
		if len(events) != 1 || events[0].Category != CategoryTwin {
			t.Errorf("category filter returned %d events", len(events))
		}
	})

	t.Run("ByConnectionID", func(t *testing.T) {
		events := readAll(t, path, Filter{ConnectionID: "conn-a"})
		if len(events) != 2 {
			t.Errorf("connection filter returned %d events, want 2", len(events))
		}
	})

	t.Run("ByMinSeverity", func(t *testing.T) {
		min := SeverityWarn
		events := readAll(t, path, Filter{MinSeverity: &min})
		if len(events) != 1 || events[0].Category != CategoryError {
			t.Errorf("severity filter returned %d events", len(events))
		}
	})
}
