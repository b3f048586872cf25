package libtracker

import (
	"context"
	"encoding/json"
	"time"

	libkv "github.com/contenox/relay/libkvstore"
)

// activityListKey is the KV list holding the most recent activity records,
// newest first.
const activityListKey = "activity:recent"

// maxActivityRecords bounds the KV list so the feed never grows unchecked.
const maxActivityRecords = 1000

// KVActivityTracker appends finished activity spans to a capped list in the
// KV store. Writes are best effort: a failing KV backend must never break the
// operation being tracked.
type KVActivityTracker struct {
	kvManager libkv.KVManager
}

// NewKVActivityTracker returns a tracker persisting spans through kvManager.
func NewKVActivityTracker(kvManager libkv.KVManager) *KVActivityTracker {
	return &KVActivityTracker{kvManager: kvManager}
}

type activityRecord struct {
	Operation  string `json:"operation"`
	Subject    string `json:"subject"`
	RequestID  string `json:"requestID,omitempty"`
	EntityID   string `json:"entityID,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"startedAt"`
	DurationMS int64  `json:"durationMs"`
}

func (t *KVActivityTracker) Start(ctx context.Context, operation string, subject string, _ ...any) (func(error), func(string, any), func()) {
	start := time.Now().UTC()
	requestID, _ := ctx.Value(ContextKeyRequestID).(string)
	record := &activityRecord{
		Operation: operation,
		Subject:   subject,
		RequestID: requestID,
		StartedAt: start.UnixMilli(),
	}

	reportErr := func(err error) {
		if err == nil {
			return
		}
		record.Error = err.Error()
	}
	reportChange := func(id string, _ any) {
		record.EntityID = id
	}
	end := func() {
		record.DurationMS = time.Since(start).Milliseconds()
		payload, err := json.Marshal(record)
		if err != nil {
			return
		}
		// Detach from the request context so a cancelled request still gets
		// its span recorded.
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		kv, err := t.kvManager.Executor(writeCtx)
		if err != nil {
			return
		}
		if err := kv.ListPush(writeCtx, activityListKey, payload); err != nil {
			return
		}
		if length, err := kv.ListLength(writeCtx, activityListKey); err == nil && length > maxActivityRecords {
			_, _ = kv.ListRPop(writeCtx, activityListKey)
		}
	}
	return reportErr, reportChange, end
}

var _ ActivityTracker = (*KVActivityTracker)(nil)
