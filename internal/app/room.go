package app

import (
	"sort"
	"sync"

	"github.com/abhinavnt/codefolio-sub001/internal/core"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/rs/zerolog/log"
)

// room is an in-memory member set guarded by its own mutex. Mutations and
// the fan-out they trigger happen under mu, so members observe joins and
// leaves in the order the server processed them.
// It never closes adapter-owned resources.
type room struct {
	room    domain.Room
	mu      sync.Mutex
	members map[domain.PeerID]core.MemberSession
	// closed is set once the last member left and the room was evicted.
	// A join that raced with the eviction must retry on a fresh room.
	closed bool
}

func newRoom(id domain.RoomID) *room {
	return &room{
		room:    domain.Room{ID: id},
		members: make(map[domain.PeerID]core.MemberSession),
	}
}

// broadcast queues f to every member except from. Caller holds r.mu.
func (r *room) broadcast(from domain.PeerID, f core.Frame) core.PublishResult {
	res := core.PublishResult{}
	for peer, m := range r.members {
		if peer == from {
			continue
		}
		if err := m.Signal().TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().
		Str("module", "app.room").
		Str("room", string(r.room.ID)).
		Str("from", string(from)).
		Int("sent_to", res.SendTo).
		Int("dropped", len(res.Dropped)).
		Msg("broadcast result")
	return res
}

func (r *room) snapshot() []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PeerID, 0, len(r.members))
	for peer := range r.members {
		out = append(out, peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
