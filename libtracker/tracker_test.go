package libtracker_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/contenox/relay/libtracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_LogActivityTrackerWritesSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tracker := libtracker.NewLogActivityTracker(logger)

	ctx := libtracker.WithNewRequestID(context.Background())
	reportErr, reportChange, end := tracker.Start(ctx, "create", "room", "room", "general")
	reportChange("room-1", map[string]string{"name": "general"})
	reportErr(errors.New("boom"))
	end()

	out := buf.String()
	assert.Contains(t, out, "activity started")
	assert.Contains(t, out, "activity changed state")
	assert.Contains(t, out, "activity failed")
	assert.Contains(t, out, "activity ended")
	assert.Contains(t, out, "operation=create")
	assert.Contains(t, out, "subject=room")
	assert.Contains(t, out, "entity_id=room-1")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "SERVERBUG")
}

func TestUnit_LogActivityTrackerFlagsMissingRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tracker := libtracker.NewLogActivityTracker(logger)

	_, _, end := tracker.Start(context.Background(), "read", "room")
	end()

	assert.Contains(t, buf.String(), "SERVERBUG")
}

func TestUnit_LogActivityTrackerNilErrorIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tracker := libtracker.NewLogActivityTracker(logger)

	reportErr, _, end := tracker.Start(libtracker.WithNewRequestID(context.Background()), "read", "room")
	reportErr(nil)
	end()

	assert.NotContains(t, buf.String(), "activity failed")
}

type recordingTracker struct {
	starts  int
	errs    int
	changes int
	ends    int
}

func (r *recordingTracker) Start(_ context.Context, _ string, _ string, _ ...any) (func(error), func(string, any), func()) {
	r.starts++
	return func(error) { r.errs++ }, func(string, any) { r.changes++ }, func() { r.ends++ }
}

func TestUnit_ChainedTrackerFansOut(t *testing.T) {
	first := &recordingTracker{}
	second := &recordingTracker{}
	chain := libtracker.ChainedTracker{first, second}

	reportErr, reportChange, end := chain.Start(context.Background(), "create", "session")
	reportErr(errors.New("boom"))
	reportChange("id", nil)
	end()

	for _, rec := range []*recordingTracker{first, second} {
		assert.Equal(t, 1, rec.starts)
		assert.Equal(t, 1, rec.errs)
		assert.Equal(t, 1, rec.changes)
		assert.Equal(t, 1, rec.ends)
	}
}

func TestUnit_CopyTrackingValues(t *testing.T) {
	src := libtracker.WithNewRequestID(context.Background())
	dst := libtracker.CopyTrackingValues(src, context.Background())

	srcID, ok := src.Value(libtracker.ContextKeyRequestID).(string)
	require.True(t, ok)
	dstID, ok := dst.Value(libtracker.ContextKeyRequestID).(string)
	require.True(t, ok)
	assert.Equal(t, srcID, dstID)
	assert.NotEmpty(t, dstID)
}
