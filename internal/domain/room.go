package domain

// RoomID identifies a call room. It is the booking identifier handed over by
// the booking subsystem and is treated as opaque.
type RoomID string

// PeerID is assigned by the connection broker and is unique per connected
// client instance.
type PeerID string

type Room struct {
	ID RoomID
}
