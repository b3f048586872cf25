// Package wireproto defines the frames exchanged with relay clients. Every
// frame is a single JSON object carrying a "type" discriminator; the encoding
// is newline-free so frames can ride any text transport.
package wireproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client → server frame types.
const (
	TypeJoin     = "join"
	TypeJoinRoom = "join_room"
	TypeMessage  = "message"
)

// Server → client frame types. TypeMessage is shared: the server's message
// frame carries sender and room alongside the text.
const (
	TypeRoomList       = "room_list"
	TypeHistory        = "history"
	TypeSystem         = "system"
	TypeUserJoinedRoom = "user_joined_room"
	TypeUserLeftRoom   = "user_left_room"
	TypeError          = "error"
	TypeUsernameTaken  = "username_taken"
)

var (
	// ErrInvalidFormat marks a frame that is not a JSON object.
	ErrInvalidFormat = errors.New("wireproto: invalid frame format")
	// ErrUnknownType marks a frame whose type is not a client frame type.
	ErrUnknownType = errors.New("wireproto: unknown frame type")
	// ErrMissingField marks a required field that is absent or blank after
	// trimming.
	ErrMissingField = errors.New("wireproto: missing required field")
)

// ClientFrame is one decoded client frame. Type selects which of the other
// fields carries the payload: Name for join, Room for join_room, Text for
// message.
type ClientFrame struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Room string `json:"room,omitempty"`
	Text string `json:"text,omitempty"`
}

// DecodeClientFrame parses and shape-validates one inbound frame. Name and
// Room come back trimmed; Text is validated to be non-blank but returned
// verbatim. On validation errors the frame is still returned with its Type
// set, so callers can word the rejection for the attempted action.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	switch frame.Type {
	case TypeJoin:
		frame.Name = strings.TrimSpace(frame.Name)
		if frame.Name == "" {
			return frame, fmt.Errorf("%w: name", ErrMissingField)
		}
	case TypeJoinRoom:
		frame.Room = strings.TrimSpace(frame.Room)
		if frame.Room == "" {
			return frame, fmt.Errorf("%w: room", ErrMissingField)
		}
	case TypeMessage:
		if strings.TrimSpace(frame.Text) == "" {
			return frame, fmt.Errorf("%w: text", ErrMissingField)
		}
	case "":
		return frame, fmt.Errorf("%w: type", ErrMissingField)
	default:
		return frame, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}
	return frame, nil
}

// StoredMessageView is the client-facing shape of one history entry. From is
// present only for chat messages, never for system notices.
type StoredMessageView struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// RoomList announces the room catalog to a fresh connection.
type RoomList struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

func NewRoomList(rooms []string) RoomList {
	if rooms == nil {
		rooms = []string{}
	}
	return RoomList{Type: TypeRoomList, Rooms: rooms}
}

// History carries the persisted tail of a room to a joining connection.
type History struct {
	Type     string              `json:"type"`
	Messages []StoredMessageView `json:"messages"`
	Room     string              `json:"room"`
}

func NewHistory(room string, messages []StoredMessageView) History {
	if messages == nil {
		messages = []StoredMessageView{}
	}
	return History{Type: TypeHistory, Messages: messages, Room: room}
}

// System is a server-generated notice addressed to one connection.
type System struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Room      string `json:"room,omitempty"`
}

func NewSystem(message string, timestamp int64, room string) System {
	return System{Type: TypeSystem, Message: message, Timestamp: timestamp, Room: room}
}

// UserJoinedRoom is broadcast to a room's members when someone joins.
type UserJoinedRoom struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	Timestamp int64  `json:"timestamp"`
	Room      string `json:"room"`
}

func NewUserJoinedRoom(user string, timestamp int64, room string) UserJoinedRoom {
	return UserJoinedRoom{Type: TypeUserJoinedRoom, User: user, Timestamp: timestamp, Room: room}
}

// UserLeftRoom is broadcast to a room's members when someone leaves.
type UserLeftRoom struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	Timestamp int64  `json:"timestamp"`
	Room      string `json:"room"`
}

func NewUserLeftRoom(user string, timestamp int64, room string) UserLeftRoom {
	return UserLeftRoom{Type: TypeUserLeftRoom, User: user, Timestamp: timestamp, Room: room}
}

// ChatMessage is the server's delivery of one chat message to a room.
type ChatMessage struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Room      string `json:"room"`
}

func NewChatMessage(from, message string, timestamp int64, room string) ChatMessage {
	return ChatMessage{Type: TypeMessage, From: from, Message: message, Timestamp: timestamp, Room: room}
}

// ErrorFrame reports a protocol or authorization error to the offender.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}

// UsernameTaken rejects a join whose name is already claimed.
type UsernameTaken struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewUsernameTaken(message string) UsernameTaken {
	return UsernameTaken{Type: TypeUsernameTaken, Message: message}
}

// Encode serializes one server frame.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("wireproto: encode frame: %w", err)
	}
	return data, nil
}
