package libbus

import (
	"context"
	"fmt"
	"sync"
)

// InMem is a process-local Messenger. It exists so single-binary deployments
// can run the event feed without a NATS server: Publish fans out to Stream
// subscribers in the same process, and Request calls a registered Serve
// handler directly.
type InMem struct {
	mu       sync.RWMutex
	closed   bool
	nextID   uint64
	streams  map[string]map[uint64]chan<- []byte
	handlers map[string]handlerEntry
}

// handlerEntry remembers which registration owns the slot so a stale
// subscription cannot unregister its replacement.
type handlerEntry struct {
	id uint64
	fn Handler
}

// NewInMem returns an empty in-process Messenger.
func NewInMem() *InMem {
	return &InMem{
		streams:  make(map[string]map[uint64]chan<- []byte),
		handlers: make(map[string]handlerEntry),
	}
}

// Publish delivers data to every current subscriber of subject. Delivery is
// synchronous per subscriber; a full subscriber channel blocks the publisher
// until it drains or ctx ends.
func (m *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrConnectionClosed
	}
	targets := make([]chan<- []byte, 0, len(m.streams[subject]))
	for _, ch := range m.streams[subject] {
		targets = append(targets, ch)
	}
	m.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stream registers ch as a subscriber of subject until Unsubscribe or ctx
// cancellation. Each call is an independent registration, even for the same
// channel.
func (m *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	m.nextID++
	id := m.nextID
	if m.streams[subject] == nil {
		m.streams[subject] = make(map[uint64]chan<- []byte)
	}
	m.streams[subject][id] = ch
	m.mu.Unlock()

	sub := &memSubscription{cancel: func() {
		m.mu.Lock()
		if subs := m.streams[subject]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(m.streams, subject)
			}
		}
		m.mu.Unlock()
	}}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// Request invokes the handler registered for subject. Without a handler it
// reports ErrRequestTimeout, which is what a NATS requester with a deadline
// would eventually see.
func (m *InMem) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrConnectionClosed
	}
	entry, ok := m.handlers[subject]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrRequestTimeout
	}
	return callHandler(ctx, entry.fn, data)
}

// callHandler shields the requester from handler panics.
func callHandler(ctx context.Context, handler Handler, data []byte) (reply []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply, err = nil, fmt.Errorf("libbus: handler panic: %v", r)
		}
	}()
	return handler(ctx, data)
}

// Serve registers handler for subject, replacing any previous registration,
// until Unsubscribe or ctx cancellation.
func (m *InMem) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	m.nextID++
	id := m.nextID
	m.handlers[subject] = handlerEntry{id: id, fn: handler}
	m.mu.Unlock()

	sub := &memSubscription{cancel: func() {
		m.mu.Lock()
		if current, ok := m.handlers[subject]; ok && current.id == id {
			delete(m.handlers, subject)
		}
		m.mu.Unlock()
	}}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// Close drops every subscriber and handler. Later operations report
// ErrConnectionClosed.
func (m *InMem) Close() error {
	m.mu.Lock()
	m.closed = true
	m.streams = make(map[string]map[uint64]chan<- []byte)
	m.handlers = make(map[string]handlerEntry)
	m.mu.Unlock()
	return nil
}

// memSubscription runs its cancel exactly once.
type memSubscription struct {
	once   sync.Once
	cancel func()
}

func (s *memSubscription) Unsubscribe() error {
	s.once.Do(s.cancel)
	return nil
}

var _ Messenger = (*InMem)(nil)
