package relayservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/relay/historystore"
	"github.com/contenox/relay/libtracker"
	"github.com/contenox/relay/relaystate"
	"github.com/contenox/relay/wireproto"
)

func (s *service) run() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *service) handle(ev event) {
	defer close(ev.handled)
	switch ev.kind {
	case evConnect:
		s.handleConnect(ev.conn)
	case evFrame:
		s.handleFrame(ev.connID, ev.data)
	case evClose:
		s.handleClose(ev.connID)
	}
}

func (s *service) handleConnect(conn Conn) {
	s.conns[conn.ID()] = conn
	s.connCount.Store(int64(len(s.conns)))
	s.unicast(conn, wireproto.NewRoomList(s.catalog.List()))
}

func (s *service) handleFrame(connID string, data []byte) {
	conn, ok := s.conns[connID]
	if !ok {
		// The connection closed before its frame got handled.
		return
	}

	frame, err := wireproto.DecodeClientFrame(data)
	if err != nil {
		s.logger.Debug("rejected frame", "conn", connID, "error", err)
		s.unicast(conn, wireproto.NewError(protocolErrorText(frame, err)))
		return
	}

	switch frame.Type {
	case wireproto.TypeJoin:
		s.handleJoin(conn, frame.Name)
	case wireproto.TypeJoinRoom:
		s.handleJoinRoom(conn, frame.Room)
	case wireproto.TypeMessage:
		s.handleChat(conn, frame.Text)
	}
}

func protocolErrorText(frame wireproto.ClientFrame, err error) string {
	switch {
	case errors.Is(err, wireproto.ErrUnknownType):
		return fmt.Sprintf("Unknown message type %q", frame.Type)
	case errors.Is(err, wireproto.ErrMissingField):
		switch frame.Type {
		case wireproto.TypeJoin:
			return "Name cannot be empty"
		case wireproto.TypeJoinRoom:
			return "Room cannot be empty"
		case wireproto.TypeMessage:
			return "Message cannot be empty"
		}
	}
	return "Invalid message format"
}

func (s *service) handleJoin(conn Conn, name string) {
	err := s.sessions.Register(conn.ID(), name)
	switch {
	case errors.Is(err, relaystate.ErrNameTaken):
		s.unicast(conn, wireproto.NewUsernameTaken(fmt.Sprintf("Username %q is already taken", name)))
	case errors.Is(err, relaystate.ErrAlreadyRegistered):
		s.unicast(conn, wireproto.NewError("You already registered a username"))
	case err != nil:
		s.logger.Error("session registration failed", "conn", conn.ID(), "error", err)
		s.unicast(conn, wireproto.NewError("Registration failed"))
	default:
		ts := nowMillis()
		s.unicast(conn, wireproto.NewSystem(fmt.Sprintf("Welcome, %s!", name), ts, ""))
		s.publish(Event{Type: EventSessionRegistered, User: name, Timestamp: ts})
	}
}

func (s *service) handleJoinRoom(conn Conn, room string) {
	connID := conn.ID()
	sess, ok := s.sessions.Get(connID)
	if !ok {
		s.unicast(conn, wireproto.NewError("Choose a username first"))
		return
	}
	if !s.catalog.Valid(room) {
		s.unicast(conn, wireproto.NewError(fmt.Sprintf("Unknown room %q", room)))
		return
	}

	// Leaving the old room comes first, even when rejoining the same one.
	if sess.Room != "" {
		s.leaveRoom(connID, sess.Name, sess.Room)
	}

	s.rooms.Join(room, connID)
	if err := s.sessions.SetRoom(connID, room); err != nil {
		s.rooms.Leave(room, connID)
		s.logger.Error("room assignment failed", "conn", connID, "room", room, "error", err)
		s.unicast(conn, wireproto.NewError("Join failed"))
		return
	}

	// The joiner sees the persisted snapshot before anything live: history
	// frame, then its own confirmation, then whatever broadcasts follow.
	s.unicast(conn, wireproto.NewHistory(room, s.loadHistory(room)))

	ts := nowMillis()
	s.unicast(conn, wireproto.NewSystem(fmt.Sprintf("You joined %s", room), ts, room))
	s.broadcast(room, wireproto.NewUserJoinedRoom(sess.Name, ts, room), connID)
	s.persist(room, historystore.StoredMessage{
		Kind:      historystore.MessageKindSystem,
		Text:      fmt.Sprintf("%s joined the room", sess.Name),
		Timestamp: ts,
	})
	s.publish(Event{Type: EventRoomJoined, User: sess.Name, Room: room, Timestamp: ts})
}

func (s *service) handleChat(conn Conn, text string) {
	sess, ok := s.sessions.Get(conn.ID())
	if !ok {
		s.unicast(conn, wireproto.NewError("Choose a username first"))
		return
	}
	if sess.Room == "" {
		s.unicast(conn, wireproto.NewError("Join a room first"))
		return
	}

	ts := nowMillis()
	// The sender is part of the audience for its own message.
	s.broadcast(sess.Room, wireproto.NewChatMessage(sess.Name, text, ts, sess.Room), "")
	s.persist(sess.Room, historystore.StoredMessage{
		Kind:      historystore.MessageKindChat,
		From:      sess.Name,
		Text:      text,
		Timestamp: ts,
	})
	s.publish(Event{Type: EventMessagePosted, User: sess.Name, Room: sess.Room, Timestamp: ts})
}

func (s *service) handleClose(connID string) {
	sess, had := s.sessions.Remove(connID)
	if had && sess.Room != "" {
		s.leaveRoom(connID, sess.Name, sess.Room)
	}
	delete(s.conns, connID)
	s.connCount.Store(int64(len(s.conns)))

	ev := Event{Type: EventConnectionClosed, Timestamp: nowMillis()}
	if had {
		ev.User = sess.Name
	}
	s.publish(ev)
}

// leaveRoom removes the connection from the room and emits the leave notice:
// live to the remaining members, persisted for future history reads.
func (s *service) leaveRoom(connID, name, room string) {
	s.rooms.Leave(room, connID)
	ts := nowMillis()
	s.broadcast(room, wireproto.NewUserLeftRoom(name, ts, room), connID)
	s.persist(room, historystore.StoredMessage{
		Kind:      historystore.MessageKindSystem,
		Text:      fmt.Sprintf("%s left the room", name),
		Timestamp: ts,
	})
	s.publish(Event{Type: EventRoomLeft, User: name, Room: room, Timestamp: ts})
}

func (s *service) unicast(conn Conn, frame any) {
	data, err := wireproto.Encode(frame)
	if err != nil {
		s.logger.Error("frame encode failed", "error", err)
		return
	}
	// A closed connection is expected churn, not an error.
	_ = conn.Send(data)
}

func (s *service) broadcast(room string, frame any, exclude string) {
	data, err := wireproto.Encode(frame)
	if err != nil {
		s.logger.Error("frame encode failed", "error", err)
		return
	}
	for _, id := range s.rooms.Members(room) {
		if id == exclude {
			continue
		}
		conn, ok := s.conns[id]
		if !ok {
			continue
		}
		_ = conn.Send(data)
	}
}

// persist hands the entry to the room's journal worker, creating it on first
// use. Queue pressure drops the entry rather than stalling delivery.
func (s *service) persist(room string, msg historystore.StoredMessage) {
	q, ok := s.journal[room]
	if !ok {
		q = make(chan historystore.StoredMessage, journalQueueSize)
		s.journal[room] = q
		s.journalWG.Add(1)
		go s.runJournal(room, q)
	}
	select {
	case q <- msg:
	default:
		s.logger.Error("journal queue full, dropping history entry", "room", room, "kind", msg.Kind)
	}
}

// runJournal applies one room's durability calls in issue order. Failures are
// logged and swallowed: history missing an entry beats delivery held hostage
// to storage health.
func (s *service) runJournal(room string, q <-chan historystore.StoredMessage) {
	defer s.journalWG.Done()
	for msg := range q {
		ctx, cancel := context.WithTimeout(libtracker.WithNewRequestID(context.Background()), persistTimeout)
		if err := s.history.Append(ctx, room, msg); err != nil {
			s.logger.Error("history append failed", "room", room, "kind", msg.Kind, "error", err)
		}
		cancel()
	}
}

func (s *service) loadHistory(room string) []wireproto.StoredMessageView {
	ctx, cancel := context.WithTimeout(libtracker.WithNewRequestID(context.Background()), persistTimeout)
	defer cancel()

	messages, err := s.history.History(ctx, room)
	if err != nil {
		// Storage trouble never surfaces to clients; the joiner gets an
		// empty snapshot.
		s.logger.Error("history load failed", "room", room, "error", err)
		return nil
	}

	views := make([]wireproto.StoredMessageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, wireproto.StoredMessageView{
			Type:      msg.Kind,
			From:      msg.From,
			Message:   msg.Text,
			Timestamp: msg.Timestamp,
		})
	}
	return views
}

func (s *service) publish(ev Event) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("event encode failed", "type", ev.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, EventSubject, data); err != nil {
		s.logger.Debug("event publish failed", "type", ev.Type, "error", err)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
