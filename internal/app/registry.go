package app

import (
	"errors"
	"sort"
	"sync"

	"github.com/abhinavnt/codefolio-sub001/internal/core"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/metrics"
	"github.com/abhinavnt/codefolio-sub001/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNilConnection = errors.New("nil signaling connection")

type membership struct {
	Room domain.RoomID
	Peer domain.PeerID
}

// Registry maps room ids to their members and fans out membership changes.
//
// Lock order: joinMu, then a room's mutex, then Registry.mu. Registry.mu is
// never held while taking a room's mutex. Registry.mu only guards the maps below.
type Registry struct {
	// joinMu serialises joins so a peer id claimed from two connections at
	// once still ends up in one room. Taken before any room mutex.
	joinMu sync.Mutex

	mu     sync.Mutex
	rooms  map[domain.RoomID]*room
	byConn map[core.SignalConnection]membership
	byPeer map[domain.PeerID]domain.RoomID

	policy  Policy
	metrics metrics.Collector
}

type RegistryOption func(*Registry)

func WithPolicy(p Policy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

func WithMetrics(c metrics.Collector) RegistryOption {
	return func(r *Registry) { r.metrics = c }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms:   make(map[domain.RoomID]*room),
		byConn:  make(map[core.SignalConnection]membership),
		byPeer:  make(map[domain.PeerID]domain.RoomID),
		policy:  SimplePolicy{},
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join registers peer under roomID, creating the room on first use, and
// broadcasts user-connected to the other members. A repeated join of a peer
// that is already a member only rebinds its connection.
func (r *Registry) Join(roomID domain.RoomID, peer domain.PeerID, conn core.SignalConnection) error {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return err
	}
	if err := domain.ValidatePeerID(peer); err != nil {
		return err
	}
	if conn == nil {
		return ErrNilConnection
	}

	r.joinMu.Lock()
	defer r.joinMu.Unlock()

	r.mu.Lock()
	prevConn, connBound := r.byConn[conn]
	prevRoom, peerBound := r.byPeer[peer]
	r.mu.Unlock()

	if connBound && prevConn != (membership{Room: roomID, Peer: peer}) {
		r.leave(prevConn.Room, prevConn.Peer, conn, metrics.ReasonMoved)
	}
	if peerBound && prevRoom != roomID {
		r.leave(prevRoom, peer, nil, metrics.ReasonMoved)
	}

	rm := r.lockRoom(roomID)

	if old, ok := rm.members[peer]; ok {
		rm.members[peer] = r.newSession(peer, conn)
		r.mu.Lock()
		if old.Signal() != conn {
			delete(r.byConn, old.Signal())
		}
		r.byConn[conn] = membership{Room: roomID, Peer: peer}
		r.mu.Unlock()
		rm.mu.Unlock()
		log.Info().
			Str("module", "app.registry").
			Str("room", string(roomID)).
			Str("peer", string(peer)).
			Msg("rejoin, connection rebound")
		return nil
	}

	sess := r.newSession(peer, conn)
	rm.members[peer] = sess
	r.mu.Lock()
	r.byConn[conn] = membership{Room: roomID, Peer: peer}
	r.byPeer[peer] = roomID
	r.mu.Unlock()
	r.metrics.MemberJoined()

	res := r.fanOut(rm, peer, protocol.UserConnected(peer))
	count := len(rm.members)
	rm.mu.Unlock()

	log.Info().
		Str("module", "app.registry").
		Str("room", string(roomID)).
		Str("peer", string(peer)).
		Str("caller", string(sess.Meta().Caller)).
		Int("members", count).
		Msg("member joined")
	r.applyPolicy(roomID, res)
	return nil
}

// Leave removes peer from roomID and broadcasts user-disconnected to the
// remaining members. The room is evicted when it becomes empty.
func (r *Registry) Leave(roomID domain.RoomID, peer domain.PeerID) {
	r.leave(roomID, peer, nil, metrics.ReasonLeave)
}

// OnTransportClose resolves an abrupt disconnect to a Leave of whatever
// membership conn held. It is safe to call for connections that never
// joined and to call more than once.
func (r *Registry) OnTransportClose(conn core.SignalConnection) {
	r.mu.Lock()
	m, ok := r.byConn[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.leave(m.Room, m.Peer, conn, metrics.ReasonTransport)
}

// leave removes peer from roomID. When conn is not nil the member is only
// removed if it is still bound to conn, so a stale transport close cannot
// evict a member that rejoined on a new connection.
func (r *Registry) leave(roomID domain.RoomID, peer domain.PeerID, conn core.SignalConnection, reason string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	ms, ok := rm.members[peer]
	if !ok || (conn != nil && ms.Signal() != conn) {
		rm.mu.Unlock()
		return
	}
	delete(rm.members, peer)
	empty := len(rm.members) == 0

	r.mu.Lock()
	if m, ok := r.byConn[ms.Signal()]; ok && m.Peer == peer && m.Room == roomID {
		delete(r.byConn, ms.Signal())
	}
	if r.byPeer[peer] == roomID {
		delete(r.byPeer, peer)
	}
	evicted := false
	if empty {
		rm.closed = true
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
			evicted = true
		}
	}
	r.mu.Unlock()
	r.metrics.MemberLeft(reason)

	var res core.PublishResult
	if !empty {
		res = r.fanOut(rm, peer, protocol.UserDisconnected(peer))
	}
	rm.mu.Unlock()

	log.Info().
		Str("module", "app.registry").
		Str("room", string(roomID)).
		Str("peer", string(peer)).
		Str("reason", reason).
		Msg("member left")
	if evicted {
		r.metrics.RoomDeleted()
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room evicted")
	}
	r.applyPolicy(roomID, res)
}

// lockRoom returns the live room for id with its mutex held, creating it when
// missing.
func (r *Registry) lockRoom(id domain.RoomID) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[id]
		if !ok {
			rm = newRoom(id)
			r.rooms[id] = rm
			r.metrics.RoomCreated()
			log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room created")
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.closed {
			return rm
		}
		rm.mu.Unlock()
	}
}

func (r *Registry) newSession(peer domain.PeerID, conn core.SignalConnection) core.MemberSession {
	var caller domain.UserID
	if id, ok := conn.(core.Identified); ok {
		caller = id.Caller()
	}
	return core.NewMemberSession(domain.NewMember(peer, caller), conn)
}

// fanOut encodes msg and broadcasts it. Caller holds rm.mu.
func (r *Registry) fanOut(rm *room, from domain.PeerID, msg protocol.Message) core.PublishResult {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode broadcast")
		return core.PublishResult{}
	}
	res := rm.broadcast(from, frame)
	r.metrics.BroadcastSent(string(msg.Type), res.SendTo, len(res.Dropped))
	return res
}

func (r *Registry) applyPolicy(roomID domain.RoomID, res core.PublishResult) {
	for _, slow := range res.Dropped {
		switch r.policy.OnBackPressure(roomID, slow) {
		case DisconnectMember:
			log.Warn().
				Str("module", "app.registry").
				Str("room", string(roomID)).
				Str("peer", string(slow.Meta().Peer)).
				Str("caller", string(slow.Meta().Caller)).
				Msg("slow member disconnected")
			slow.Signal().Close()
		case NoAction:
		}
	}
}

// Members returns the sorted peer ids of roomID, or nil if it does not exist.
func (r *Registry) Members(roomID domain.RoomID) []domain.PeerID {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return rm.snapshot()
}

// RoomOf reports the room peer is currently a member of.
func (r *Registry) RoomOf(peer domain.PeerID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPeer[peer]
	return id, ok
}

// Rooms lists live rooms sorted by id.
func (r *Registry) Rooms() []core.RoomInfo {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		members := rm.snapshot()
		if len(members) == 0 {
			continue
		}
		out = append(out, core.RoomInfo{ID: rm.room.ID, MemberCount: len(members), Members: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
