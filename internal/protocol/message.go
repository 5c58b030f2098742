// Package protocol defines the messages carried by the signaling channel.
//
// The channel carries three application messages: join-room (client to
// server), user-connected and user-disconnected (server to clients). The
// fourth event, disconnect, is the transport closing and has no frame. Media
// never travels over this channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/abhinavnt/codefolio-sub001/internal/domain"
)

type Type string

const (
	TypeJoinRoom         Type = "join-room"
	TypeUserConnected    Type = "user-connected"
	TypeUserDisconnected Type = "user-disconnected"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing field")
)

// Message is the tagged union of all signaling messages. Only the fields
// relevant to Type are set.
type Message struct {
	Type   Type          `json:"type"`
	RoomID domain.RoomID `json:"roomId,omitempty"`
	PeerID domain.PeerID `json:"peerId"`
}

func JoinRoom(room domain.RoomID, peer domain.PeerID) Message {
	return Message{Type: TypeJoinRoom, RoomID: room, PeerID: peer}
}

func UserConnected(peer domain.PeerID) Message {
	return Message{Type: TypeUserConnected, PeerID: peer}
}

func UserDisconnected(peer domain.PeerID) Message {
	return Message{Type: TypeUserDisconnected, PeerID: peer}
}

// Validate checks that the fields required by the message type are present.
func (m Message) Validate() error {
	switch m.Type {
	case TypeJoinRoom:
		if m.RoomID == "" {
			return fmt.Errorf("%s: %w: roomId", m.Type, ErrMissingField)
		}
		if m.PeerID == "" {
			return fmt.Errorf("%s: %w: peerId", m.Type, ErrMissingField)
		}
	case TypeUserConnected, TypeUserDisconnected:
		if m.PeerID == "" {
			return fmt.Errorf("%s: %w: peerId", m.Type, ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// Encode marshals a message into a text frame.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a text frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
