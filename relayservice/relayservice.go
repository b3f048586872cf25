// Package relayservice is the protocol dispatcher of the relay. One event
// loop goroutine per instance consumes transport events (connect, frame,
// close) strictly in arrival order and is the sole writer of the session
// table, the room membership index and the per-room journal queues. Live
// delivery is synchronous with the triggering event; durability is handed to
// per-room journal workers and never blocks or fails a broadcast.
package relayservice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contenox/relay/historyservice"
	"github.com/contenox/relay/historystore"
	libbus "github.com/contenox/relay/libbus"
	"github.com/contenox/relay/relaystate"
	"github.com/contenox/relay/roomcatalog"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("relayservice: dispatcher closed")

// Conn is one live transport connection as the dispatcher sees it. Send must
// not block: transports buffer outbound frames and report a closed connection
// with an error, which the dispatcher treats as expected churn and skips.
type Conn interface {
	ID() string
	Send(data []byte) error
}

// Stats is a point-in-time snapshot of the dispatcher's load.
type Stats struct {
	Connections int            `json:"connections"`
	Sessions    int            `json:"sessions"`
	Rooms       map[string]int `json:"rooms"`
}

// Event is one lifecycle notification published on the relay event feed.
type Event struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	Room      string `json:"room,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EventSubject is the bus subject carrying Event payloads.
const EventSubject = "relay.events"

const (
	EventSessionRegistered = "session_registered"
	EventRoomJoined        = "room_joined"
	EventRoomLeft          = "room_left"
	EventMessagePosted     = "message_posted"
	EventConnectionClosed  = "connection_closed"
)

type Service interface {
	Connect(ctx context.Context, conn Conn) error
	Frame(ctx context.Context, connID string, data []byte) error
	Disconnect(ctx context.Context, connID string) error
	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

const (
	eventQueueSize   = 512
	journalQueueSize = 256
	persistTimeout   = 5 * time.Second
	publishTimeout   = 2 * time.Second
)

type eventKind int

const (
	evConnect eventKind = iota
	evFrame
	evClose
)

type event struct {
	kind    eventKind
	conn    Conn
	connID  string
	data    []byte
	handled chan struct{}
}

type service struct {
	catalog  *roomcatalog.Catalog
	sessions *relaystate.Sessions
	rooms    *relaystate.Membership
	history  historyservice.Service
	bus      libbus.Messenger
	logger   *slog.Logger

	events    chan event
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	drainOnce sync.Once

	// conns and journal are touched only from the event loop goroutine;
	// Close reads them after the loop has stopped.
	conns     map[string]Conn
	journal   map[string]chan historystore.StoredMessage
	journalWG sync.WaitGroup

	connCount atomic.Int64
}

// New builds a dispatcher and starts its event loop. The bus may be nil when
// no event feed is wanted. Shut it down with Close.
func New(catalog *roomcatalog.Catalog, history historyservice.Service, bus libbus.Messenger, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{
		catalog:  catalog,
		sessions: relaystate.NewSessions(),
		rooms:    relaystate.NewMembership(),
		history:  history,
		bus:      bus,
		logger:   logger,
		events:   make(chan event, eventQueueSize),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		conns:    make(map[string]Conn),
		journal:  make(map[string]chan historystore.StoredMessage),
	}
	go s.run()
	return s
}

// Connect registers a fresh transport connection; the dispatcher answers
// with the room catalog.
func (s *service) Connect(ctx context.Context, conn Conn) error {
	return s.submit(ctx, event{kind: evConnect, conn: conn})
}

// Frame hands one raw inbound frame to the dispatcher.
func (s *service) Frame(ctx context.Context, connID string, data []byte) error {
	return s.submit(ctx, event{kind: evFrame, connID: connID, data: data})
}

// Disconnect reports that the transport observed the connection closing.
func (s *service) Disconnect(ctx context.Context, connID string) error {
	return s.submit(ctx, event{kind: evClose, connID: connID})
}

// submit enqueues the event and waits until the loop has processed it, so
// callers observe their own effects (frames already sent) on return.
func (s *service) submit(ctx context.Context, ev event) error {
	ev.handled = make(chan struct{})
	select {
	case s.events <- ev:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ev.handled:
		return nil
	case <-s.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) Stats(ctx context.Context) (Stats, error) {
	return Stats{
		Connections: int(s.connCount.Load()),
		Sessions:    s.sessions.Count(),
		Rooms:       s.rooms.Occupancy(),
	}, nil
}

// Close stops the event loop, then closes the journal queues and waits for
// the workers to flush what they already accepted.
func (s *service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.quit) })
	select {
	case <-s.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.drainOnce.Do(func() {
		for _, q := range s.journal {
			close(q)
		}
	})

	drained := make(chan struct{})
	go func() {
		s.journalWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
