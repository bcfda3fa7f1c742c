// Package audit provides append-only audit logging for runs. The log is
// written for observability only; nothing in the scheduler ever reads
// it back for control decisions.
package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/dagrun/internal/events"
)

const (
	auditLogFileMode = 0o644
	auditLogDirMode  = 0o755
)

// Logger appends logfmt entries to a log file.
type Logger struct {
	path     string
	warnings io.Writer
	now      func() time.Time
	mu       sync.Mutex
}

// Field is a logfmt key/value pair.
type Field struct {
	Key   string
	Value string
}

// Entry captures one audit record.
type Entry struct {
	Event  string
	NodeID string
	Fields []Field
}

// NewLogger builds an audit logger writing to path. Warnings about the
// log file itself go to warnings (defaults to stderr).
func NewLogger(path string, warnings io.Writer) (*Logger, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	if warnings == nil {
		warnings = os.Stderr
	}
	return &Logger{
		path:     path,
		warnings: warnings,
		now:      time.Now,
	}, nil
}

// Log writes a single audit entry.
func (l *Logger) Log(entry Entry) error {
	if l == nil {
		return errors.New("audit logger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := l.formatEntry(entry)
	if err != nil {
		l.warnf("audit log entry rejected: %v", err)
		return err
	}
	if err := l.appendLine(line); err != nil {
		l.warnf("audit log write failed for %s: %v", l.path, err)
		return err
	}
	return nil
}

// Consume translates bus events into audit entries until the
// subscription channel closes. Run it on its own goroutine.
func (l *Logger) Consume(sub <-chan events.Event) {
	for ev := range sub {
		_ = l.Log(entryFor(ev))
	}
}

// entryFor maps a bus event to an audit entry.
func entryFor(ev events.Event) Entry {
	entry := Entry{Event: ev.EventType(), NodeID: ev.NodeID()}
	switch ev := ev.(type) {
	case events.NodeStartedEvent:
		entry.Fields = []Field{
			{Key: "kind", Value: ev.Kind},
			{Key: "attempt", Value: strconv.Itoa(ev.Attempt)},
		}
	case events.NodeFailedEvent:
		entry.Fields = []Field{
			{Key: "reason", Value: ev.Reason},
			{Key: "attempt", Value: strconv.Itoa(ev.Attempt)},
		}
	case events.NodeRetriedEvent:
		entry.Fields = []Field{
			{Key: "attempt", Value: strconv.Itoa(ev.Attempt)},
			{Key: "max_attempts", Value: strconv.Itoa(ev.MaxAttempts)},
		}
	case events.NodeBlockedEvent:
		entry.Fields = []Field{
			{Key: "reason", Value: ev.Reason},
			{Key: "stalls", Value: strconv.Itoa(ev.Stalls)},
		}
	case events.NodeEscalatedEvent:
		entry.Fields = []Field{
			{Key: "reason", Value: ev.Reason},
			{Key: "frozen", Value: strings.Join(ev.Frozen, ",")},
		}
	case events.NodeSupersededEvent:
		entry.Fields = []Field{
			{Key: "replacement", Value: ev.ReplacementID},
		}
	case events.NodeInjectedEvent:
		entry.Fields = []Field{
			{Key: "kind", Value: ev.Kind},
			{Key: "origin", Value: ev.Origin},
		}
	case events.MessageRoutedEvent:
		entry.Fields = []Field{
			{Key: "type", Value: ev.Type},
			{Key: "target", Value: ev.Target},
		}
	case events.RunPhaseEvent:
		entry.Fields = []Field{
			{Key: "phase", Value: ev.Phase},
			{Key: "reason", Value: ev.Reason},
		}
	case events.RunProgressEvent:
		entry.Fields = []Field{
			{Key: "total", Value: strconv.Itoa(ev.Total)},
			{Key: "succeeded", Value: strconv.Itoa(ev.Succeeded)},
			{Key: "running", Value: strconv.Itoa(ev.Running)},
			{Key: "pending", Value: strconv.Itoa(ev.Pending)},
		}
	}
	return entry
}

// formatEntry renders an audit entry in logfmt-style order.
func (l *Logger) formatEntry(entry Entry) (string, error) {
	if entry.Event == "" {
		return "", errors.New("event is required")
	}
	now := l.now
	if now == nil {
		now = time.Now
	}

	ts := now().UTC().Format(time.RFC3339)
	fields := []string{
		formatField("ts", ts),
		formatField("event", entry.Event),
	}
	if entry.NodeID != "" {
		fields = append(fields, formatField("node_id", entry.NodeID))
	}

	for _, field := range entry.Fields {
		if field.Value == "" {
			continue
		}
		if field.Key == "" {
			return "", errors.New("field key is required")
		}
		fields = append(fields, formatField(field.Key, field.Value))
	}
	return strings.Join(fields, " "), nil
}

// formatField encodes a logfmt key/value pair. Quote escaping runs
// before newline sanitizing so the backslash it introduces survives.
func formatField(key string, value string) string {
	if needsQuoting(value) {
		return fmt.Sprintf(`%s="%s"`, key, sanitizeValue(escapeLogfmt(value)))
	}
	return fmt.Sprintf("%s=%s", key, value)
}

// sanitizeValue ensures values stay single-line.
func sanitizeValue(value string) string {
	value = strings.ReplaceAll(value, "\n", `\n`)
	return strings.ReplaceAll(value, "\r", `\r`)
}

// needsQuoting reports whether the value needs logfmt quoting.
func needsQuoting(value string) bool {
	if value == "" {
		return true
	}
	for _, r := range value {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}

// escapeLogfmt escapes characters that must be quoted in logfmt values.
func escapeLogfmt(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

// appendLine writes the entry to the audit log file.
func (l *Logger) appendLine(line string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), auditLogDirMode); err != nil {
		return fmt.Errorf("create audit log directory %s: %w", filepath.Dir(l.path), err)
	}
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditLogFileMode)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", l.path, err)
	}
	if _, err := file.WriteString(line + "\n"); err != nil {
		_ = file.Close()
		return fmt.Errorf("write audit log %s: %w", l.path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close audit log %s: %w", l.path, err)
	}
	return nil
}

// warnf writes a warning message to the configured warnings writer.
func (l *Logger) warnf(format string, args ...any) {
	if l == nil || l.warnings == nil {
		return
	}
	_, _ = fmt.Fprintf(l.warnings, format+"\n", args...)
}
