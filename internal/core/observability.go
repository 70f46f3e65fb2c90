package core

import (
	"context"
	"time"
)

// Clock supplies timestamps for change log entries and telemetry.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock. A nil function falls back to the wall clock; the
// result is always UTC.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Logger is the structured logger the service narrates through. Arguments
// after the message are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewNoopLogger returns a logger that discards every message.
func NewNoopLogger() Logger { return noopLogger{} }

// MetricsRecorder observes the outcome of every service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer opens a span around every service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the operation error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed service operation.
type AuditEntry struct {
	Operation  string
	Status     AuditStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// AuditRecorder receives an entry for every service operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// NewLogAuditRecorder writes every audited operation to logger. Failures are
// logged at warn level, everything else at debug.
func NewLogAuditRecorder(logger Logger) AuditRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return logAuditRecorder{logger: logger}
}

type logAuditRecorder struct{ logger Logger }

func (r logAuditRecorder) Record(_ context.Context, e AuditEntry) {
	args := []any{"operation", e.Operation, "status", string(e.Status), "duration", e.Duration}
	if e.Status == AuditStatusError {
		r.logger.Warn("operation failed", append(args, "error", e.Error)...)
		return
	}
	r.logger.Debug("operation finished", args...)
}
