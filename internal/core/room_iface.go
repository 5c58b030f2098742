package core

import (
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
)

// PublishResult reports delivery stats/backpressure of one fan-out.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomInfo is a read-only view for APIs (no transport fields).
type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	MemberCount int             `json:"member_count"`
	Members     []domain.PeerID `json:"members"`
}
