// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxRoomIDLen = 128
	MaxPeerIDLen = 64
)

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrPeerIDTooLong = errors.New("peer id too long")
)

// UserID is the caller identity established by the HTTP layer. Authorization
// of who may use a room belongs to the caller of this service.
type UserID string

// NewPeerID returns a fresh random peer identifier.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// ValidateRoomID only bounds the size: room ids are opaque.
func ValidateRoomID(id RoomID) error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

func ValidatePeerID(id PeerID) error {
	if len(id) == 0 {
		return ErrPeerIDEmpty
	}
	if len(id) > MaxPeerIDLen {
		return ErrPeerIDTooLong
	}
	return nil
}
