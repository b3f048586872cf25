// Package libbus is a thin messaging layer over NATS with an in-memory
// fallback for single-process deployments. It exposes fire-and-forget
// publish/subscribe plus request-reply.
package libbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	// ErrConnectionClosed is returned for operations on a closed Messenger.
	ErrConnectionClosed = errors.New("libbus: connection closed")
	// ErrRequestTimeout is returned when a request's deadline expires before
	// any responder replies.
	ErrRequestTimeout = errors.New("libbus: request timed out")
)

// Handler answers one request. The returned bytes are sent back to the
// requester verbatim; a non-nil error is reported to the requester as an
// "error: ..." payload instead.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// Subscription is a handle to an active Stream or Serve registration.
type Subscription interface {
	Unsubscribe() error
}

// Messenger is the transport surface shared by the NATS and in-memory
// implementations.
type Messenger interface {
	// Publish sends a fire-and-forget message to all subscribers of subject.
	Publish(ctx context.Context, subject string, data []byte) error
	// Stream delivers every message on subject to ch until the subscription
	// is cancelled or ctx is done.
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	// Request sends data to subject and waits for a single reply.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	// Serve answers requests on subject with handler until the subscription
	// is cancelled or ctx is done.
	Serve(ctx context.Context, subject string, handler Handler) (Subscription, error)
	Close() error
}

// Config carries the NATS connection settings.
type Config struct {
	NATSURL      string `json:"nats_url"`
	NATSUser     string `json:"nats_user"`
	NATSPassword string `json:"nats_password"`
}

type pubSub struct {
	nc *nats.Conn
}

// NewPubSub connects to the NATS server in cfg and returns a Messenger backed
// by it.
func NewPubSub(ctx context.Context, cfg *Config) (Messenger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []nats.Option{}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("libbus: connect to %s: %w", cfg.NATSURL, err)
	}
	return &pubSub{nc: nc}, nil
}

func (p *pubSub) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc.IsClosed() {
		return ErrConnectionClosed
	}
	if err := p.nc.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}

func (p *pubSub) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- msg.Data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

func (p *pubSub) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return nil, err
	}
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	_, hasDeadline := ctx.Deadline()
	for {
		msg, err := p.nc.RequestWithContext(ctx, subject, data)
		if err == nil {
			return msg.Data, nil
		}
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			if !hasDeadline {
				return nil, nats.ErrNoResponders
			}
			// The responder may still be coming up; keep trying until the
			// deadline expires.
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, ErrRequestTimeout
				}
				return nil, ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return nil, ErrRequestTimeout
		case errors.Is(err, context.Canceled):
			return nil, context.Canceled
		case errors.Is(err, nats.ErrConnectionClosed):
			return nil, ErrConnectionClosed
		default:
			return nil, err
		}
	}
}

func (p *pubSub) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				_ = msg.Respond(fmt.Appendf(nil, "error: handler panic: %v", r))
			}
		}()
		reply, err := handler(ctx, msg.Data)
		if err != nil {
			_ = msg.Respond(fmt.Appendf(nil, "error: %s", err))
			return
		}
		_ = msg.Respond(reply)
	})
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

func (p *pubSub) Close() error {
	p.nc.Close()
	return nil
}

var _ Messenger = (*pubSub)(nil)
