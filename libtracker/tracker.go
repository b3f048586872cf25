// Package libtracker provides lightweight operation telemetry. Services are
// wrapped with activity-tracker decorators that report the operation, the
// affected subject, errors, and state changes to one or more sinks.
package libtracker

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// ActivityTracker records the lifecycle of one service operation.
// Start returns three callbacks:
//
//	reportErr    — call with the operation error (nil-safe)
//	reportChange — call after a successful mutation with the entity id and
//	               an optional snapshot of what changed
//	end          — always call (defer) to close the span
type ActivityTracker interface {
	Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(err error), func(id string, data any), func())
}

// NoopTracker drops everything. Useful as a default for optional wiring.
type NoopTracker struct{}

func (NoopTracker) Start(_ context.Context, _ string, _ string, _ ...any) (func(error), func(string, any), func()) {
	return func(error) {}, func(string, any) {}, func() {}
}

// LogActivityTracker writes activity spans to a slog logger.
type LogActivityTracker struct {
	logger *slog.Logger
}

// NewLogActivityTracker returns a tracker logging to the given logger.
func NewLogActivityTracker(logger *slog.Logger) *LogActivityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogActivityTracker{logger: logger}
}

func (t *LogActivityTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	requestID, _ := ctx.Value(ContextKeyRequestID).(string)
	if requestID == "" {
		// Entry points are expected to stamp a request ID (middleware or
		// WithNewRequestID); flag the gap instead of dropping the span.
		requestID = "SERVERBUG-missing-request-id"
	}
	attrs := []any{"operation", operation, "subject", subject, "request_id", requestID}
	if traceID, ok := ctx.Value(ContextKeyTraceID).(string); ok && traceID != "" {
		attrs = append(attrs, "trace_id", traceID)
	}
	if spanID, ok := ctx.Value(ContextKeySpanID).(string); ok && spanID != "" {
		attrs = append(attrs, "span_id", spanID)
	}
	attrs = append(attrs, kvArgs...)

	start := time.Now().UTC()
	t.logger.Debug("activity started", attrs...)

	reportErr := func(err error) {
		if err == nil {
			return
		}
		t.logger.Error("activity failed", append(slices.Clone(attrs), "error", err)...)
	}
	reportChange := func(id string, data any) {
		t.logger.Info("activity changed state", append(slices.Clone(attrs), "entity_id", id, "change", data)...)
	}
	end := func() {
		t.logger.Debug("activity ended", append(slices.Clone(attrs), "duration", time.Since(start))...)
	}
	return reportErr, reportChange, end
}

// ChainedTracker fans every span out to each tracker in order.
type ChainedTracker []ActivityTracker

func (c ChainedTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	reportErrs := make([]func(error), 0, len(c))
	reportChanges := make([]func(string, any), 0, len(c))
	ends := make([]func(), 0, len(c))
	for _, tracker := range c {
		reportErr, reportChange, end := tracker.Start(ctx, operation, subject, kvArgs...)
		reportErrs = append(reportErrs, reportErr)
		reportChanges = append(reportChanges, reportChange)
		ends = append(ends, end)
	}
	return func(err error) {
			for _, f := range reportErrs {
				f(err)
			}
		}, func(id string, data any) {
			for _, f := range reportChanges {
				f(id, data)
			}
		}, func() {
			for _, f := range ends {
				f()
			}
		}
}

var (
	_ ActivityTracker = NoopTracker{}
	_ ActivityTracker = (*LogActivityTracker)(nil)
	_ ActivityTracker = ChainedTracker{}
)
