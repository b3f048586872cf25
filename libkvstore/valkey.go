// Package libkvstore wraps a Valkey server behind a small executor interface.
// Values are stored as raw JSON so callers keep control over encoding.
package libkvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("libkvstore: key not found")

// Config carries the connection settings for the KV backend.
type Config struct {
	KVAddr     string `json:"kv_addr"`
	KVPassword string `json:"kv_password"`
}

// KVManager hands out executors bound to a shared client.
type KVManager interface {
	Executor(ctx context.Context) (KVExec, error)
	Close() error
}

// KVExec is the operation surface of a single logical connection.
type KVExec interface {
	Set(ctx context.Context, key string, value json.RawMessage) error
	SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	ListPush(ctx context.Context, key string, value json.RawMessage) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]json.RawMessage, error)
	ListRPop(ctx context.Context, key string) (json.RawMessage, error)
	ListLength(ctx context.Context, key string) (int64, error)
	SetAdd(ctx context.Context, key string, member json.RawMessage) error
	SetMembers(ctx context.Context, key string) ([]json.RawMessage, error)
}

type manager struct {
	client  valkey.Client
	timeout time.Duration
}

// NewManager connects to the Valkey server in cfg. The timeout bounds every
// individual operation issued through executors from this manager.
func NewManager(cfg Config, timeout time.Duration) (KVManager, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.KVAddr},
		Password:    cfg.KVPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("libkvstore: connect to %s: %w", cfg.KVAddr, err)
	}
	return &manager{client: client, timeout: timeout}, nil
}

func (m *manager) Executor(ctx context.Context) (KVExec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &valkeyExec{client: m.client, timeout: m.timeout}, nil
}

func (m *manager) Close() error {
	m.client.Close()
	return nil
}

type valkeyExec struct {
	client  valkey.Client
	timeout time.Duration
}

func (e *valkeyExec) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *valkeyExec) Set(ctx context.Context, key string, value json.RawMessage) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Set().Key(key).Value(string(value)).Build()).Error()
}

func (e *valkeyExec) SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Set().Key(key).Value(string(value)).Ex(ttl).Build()).Error()
}

func (e *valkeyExec) Get(ctx context.Context, key string) (json.RawMessage, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	raw, err := e.client.Do(ctx, e.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (e *valkeyExec) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	n, err := e.client.Do(ctx, e.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (e *valkeyExec) Delete(ctx context.Context, key string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Del().Key(key).Build()).Error()
}

func (e *valkeyExec) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Keys().Pattern(pattern).Build()).AsStrSlice()
}

func (e *valkeyExec) ListPush(ctx context.Context, key string, value json.RawMessage) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Lpush().Key(key).Element(string(value)).Build()).Error()
}

func (e *valkeyExec) ListRange(ctx context.Context, key string, start, stop int64) ([]json.RawMessage, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	items, err := e.client.Do(ctx, e.client.B().Lrange().Key(key).Start(start).Stop(stop).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item))
	}
	return out, nil
}

func (e *valkeyExec) ListRPop(ctx context.Context, key string) (json.RawMessage, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	raw, err := e.client.Do(ctx, e.client.B().Rpop().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (e *valkeyExec) ListLength(ctx context.Context, key string) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Llen().Key(key).Build()).AsInt64()
}

func (e *valkeyExec) SetAdd(ctx context.Context, key string, member json.RawMessage) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Sadd().Key(key).Member(string(member)).Build()).Error()
}

func (e *valkeyExec) SetMembers(ctx context.Context, key string) ([]json.RawMessage, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	members, err := e.client.Do(ctx, e.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(members))
	for _, member := range members {
		out = append(out, json.RawMessage(member))
	}
	return out, nil
}
