package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClockFuncNowNilFallsBackToUTCTime(t *testing.T) {
	got := ClockFunc(nil).Now()
	if got.IsZero() {
		t.Fatal("expected non-zero time from nil ClockFunc")
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %s", got.Location())
	}
}

func TestClockFuncNowDelegatesToFunction(t *testing.T) {
	expected := time.Date(2024, 7, 4, 12, 34, 56, 0, time.FixedZone("offset", -5*3600))
	fn := ClockFunc(func() time.Time { return expected })
	got := fn.Now()
	if !got.Equal(expected.UTC()) || got.Location() != time.UTC {
		t.Fatalf("expected %s, got %s", expected.UTC(), got)
	}
}

func TestNoopsDoNotPanic(_ *testing.T) {
	logger := noopLogger{}
	logger.Debug("test debug message", "key", "value")
	logger.Info("test info message", "key", "value")
	logger.Warn("test warn message", "key", "value")
	logger.Error("test error message", "key", "value")

	ctx, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
	noopMetricsRecorder{}.Observe(ctx, "op", true, time.Millisecond)
	noopAuditRecorder{}.Record(ctx, AuditEntry{Operation: "op", Status: AuditStatusSuccess})
}

type lineLogger struct{ lines []string }

func (l *lineLogger) add(level, msg string, args ...any) {
	l.lines = append(l.lines, fmt.Sprint(append([]any{level, msg}, args...)...))
}
func (l *lineLogger) Debug(msg string, args ...any) { l.add("debug", msg, args...) }
func (l *lineLogger) Info(msg string, args ...any)  { l.add("info", msg, args...) }
func (l *lineLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args...) }
func (l *lineLogger) Error(msg string, args ...any) { l.add("error", msg, args...) }

func TestLogAuditRecorderLevels(t *testing.T) {
	log := &lineLogger{}
	rec := NewLogAuditRecorder(log)
	rec.Record(context.Background(), AuditEntry{Operation: "get_metadata", Status: AuditStatusSuccess})
	rec.Record(context.Background(), AuditEntry{Operation: "update_cell", Status: AuditStatusError, Error: "no such column"})
	if len(log.lines) != 2 {
		t.Fatalf("expected two lines, got %v", log.lines)
	}
	if !strings.HasPrefix(log.lines[0], "debug") || !strings.HasPrefix(log.lines[1], "warn") {
		t.Fatalf("unexpected levels: %v", log.lines)
	}
	if !strings.Contains(log.lines[1], "no such column") {
		t.Fatalf("expected error text in %q", log.lines[1])
	}
	NewLogAuditRecorder(nil).Record(context.Background(), AuditEntry{Operation: "op"})
}
