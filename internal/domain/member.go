package domain

// Member represents a peer's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	Peer   PeerID
	Caller UserID
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(peer PeerID, caller UserID) *Member {
	return &Member{Peer: peer, Caller: caller}
}
