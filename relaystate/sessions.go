// Package relaystate holds the live connection state of one relay instance:
// which connection registered which name, and which connections occupy which
// room. All mutation happens on the dispatcher's event loop; the read side is
// guarded so the ops surface can inspect state from other goroutines.
package relaystate

import (
	"errors"
	"sync"
)

var (
	// ErrNameTaken is returned when another live session holds the name.
	ErrNameTaken = errors.New("relaystate: name already taken")
	// ErrAlreadyRegistered is returned when the connection already has a
	// session. Names are immutable for a session's lifetime.
	ErrAlreadyRegistered = errors.New("relaystate: connection already registered")
	// ErrNotRegistered is returned for operations requiring a session when
	// none exists.
	ErrNotRegistered = errors.New("relaystate: connection not registered")
)

// Session is one registered connection. Room is empty until the connection
// joins a room.
type Session struct {
	ConnID string
	Name   string
	Room   string
}

// Sessions maps live connections to their registered names, enforcing name
// uniqueness. Uniqueness is case-sensitive on the trimmed name; callers trim
// before registering.
type Sessions struct {
	mu     sync.RWMutex
	byConn map[string]Session
	byName map[string]string
}

func NewSessions() *Sessions {
	return &Sessions{
		byConn: make(map[string]Session),
		byName: make(map[string]string),
	}
}

// Register claims name for connID. The first claim wins; later claims fail
// with ErrNameTaken until the holder disconnects. A connection that already
// holds a session cannot re-register.
func (s *Sessions) Register(connID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byConn[connID]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := s.byName[name]; ok {
		return ErrNameTaken
	}
	s.byConn[connID] = Session{ConnID: connID, Name: name}
	s.byName[name] = connID
	return nil
}

// Get returns the session for connID.
func (s *Sessions) Get(connID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byConn[connID]
	return sess, ok
}

// SetRoom records the connection's current room. An empty room means the
// session is named but not in any room.
func (s *Sessions) SetRoom(connID, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byConn[connID]
	if !ok {
		return ErrNotRegistered
	}
	sess.Room = room
	s.byConn[connID] = sess
	return nil
}

// Remove deletes the session for connID, releasing its name. It returns the
// removed session so callers can emit leave notices; ok is false when no
// session existed.
func (s *Sessions) Remove(connID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byConn[connID]
	if !ok {
		return Session{}, false
	}
	delete(s.byConn, connID)
	delete(s.byName, sess.Name)
	return sess, true
}

// Count returns the number of live sessions.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConn)
}

// List returns a snapshot of all live sessions.
func (s *Sessions) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.byConn))
	for _, sess := range s.byConn {
		out = append(out, sess)
	}
	return out
}
