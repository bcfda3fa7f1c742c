package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/dagrun/internal/events"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	logger, err := NewLogger(path, os.Stderr)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	return logger, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestNewLoggerRequiresPath(t *testing.T) {
	if _, err := NewLogger("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLogWritesLogfmt(t *testing.T) {
	logger, path := newTestLogger(t)

	err := logger.Log(Entry{
		Event:  "node.started",
		NodeID: "build-1",
		Fields: []Field{
			{Key: "kind", Value: "build"},
			{Key: "attempt", Value: "1"},
			{Key: "empty", Value: ""}, // skipped
		},
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	lines := readLines(t, path)
	want := `ts=2026-03-14T09:26:53Z event=node.started node_id=build-1 kind=build attempt=1`
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("got %q, want %q", lines, want)
	}
}

func TestLogQuotesAndSanitizes(t *testing.T) {
	logger, path := newTestLogger(t)

	err := logger.Log(Entry{
		Event: "node.failed",
		Fields: []Field{
			{Key: "reason", Value: "exit 1: missing \"schema\"\nsee log"},
		},
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	line := readLines(t, path)[0]
	if !strings.Contains(line, `reason="exit 1: missing \"schema\"\nsee log"`) {
		t.Errorf("value not quoted and escaped: %q", line)
	}
	if strings.Count(line, "\n") != 0 {
		t.Error("entry spans multiple lines")
	}
}

func TestLogRejectsInvalidEntries(t *testing.T) {
	logger, _ := newTestLogger(t)

	if err := logger.Log(Entry{}); err == nil {
		t.Error("expected error for missing event")
	}
	if err := logger.Log(Entry{Event: "x", Fields: []Field{{Value: "v"}}}); err == nil {
		t.Error("expected error for field without key")
	}
}

func TestLogAppends(t *testing.T) {
	logger, path := newTestLogger(t)

	for _, ev := range []string{"run.phase", "node.started", "node.succeeded"} {
		if err := logger.Log(Entry{Event: ev}); err != nil {
			t.Fatalf("Log(%s): %v", ev, err)
		}
	}
	if got := len(readLines(t, path)); got != 3 {
		t.Errorf("expected 3 lines, got %d", got)
	}
}

func TestConsumeTranslatesBusEvents(t *testing.T) {
	logger, path := newTestLogger(t)

	sub := make(chan events.Event, 4)
	sub <- events.NodeFailedEvent{ID: "build-1", Reason: "exit 2", Attempt: 2}
	sub <- events.RunPhaseEvent{Phase: "running"}
	close(sub)

	done := make(chan struct{})
	go func() {
		logger.Consume(sub)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after channel close")
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "event=node.failed") || !strings.Contains(lines[0], `reason="exit 2"`) || !strings.Contains(lines[0], "attempt=2") {
		t.Errorf("unexpected failed entry: %q", lines[0])
	}
	if !strings.Contains(lines[1], "event=run.phase") || !strings.Contains(lines[1], "phase=running") {
		t.Errorf("unexpected phase entry: %q", lines[1])
	}
}
