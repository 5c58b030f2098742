package session

import (
	"sort"
	"sync"

	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/media"
)

type RemoteEntry struct {
	Peer   domain.PeerID
	Stream media.Stream
}

type ChangeKind int

const (
	RemoteAdded ChangeKind = iota
	RemoteReplaced
	RemoteRemoved
)

// Change describes one mutation of a RemoteStreams. Stream is nil for
// removals.
type Change struct {
	Kind   ChangeKind
	Peer   domain.PeerID
	Stream media.Stream
}

// RemoteStreams holds at most one stream per remote peer. Writers are the
// controller's event loop; readers may be any goroutine.
type RemoteStreams struct {
	mu       sync.RWMutex
	entries  map[domain.PeerID]media.Stream
	onChange func(Change)
}

func NewRemoteStreams() *RemoteStreams {
	return &RemoteStreams{entries: make(map[domain.PeerID]media.Stream)}
}

// OnChange registers fn to observe mutations. It runs synchronously on the
// writer's goroutine.
func (r *RemoteStreams) OnChange(fn func(Change)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Upsert binds s to peer. Re-delivering the bound stream is a no-op; a
// different stream replaces the old one, which is stopped.
func (r *RemoteStreams) Upsert(peer domain.PeerID, s media.Stream) bool {
	r.mu.Lock()
	old, ok := r.entries[peer]
	if ok && old == s {
		r.mu.Unlock()
		return false
	}
	r.entries[peer] = s
	fn := r.onChange
	r.mu.Unlock()

	kind := RemoteAdded
	if ok {
		old.Stop()
		kind = RemoteReplaced
	}
	if fn != nil {
		fn(Change{Kind: kind, Peer: peer, Stream: s})
	}
	return true
}

// Remove drops and stops the stream of peer. It reports whether an entry
// existed.
func (r *RemoteStreams) Remove(peer domain.PeerID) bool {
	r.mu.Lock()
	old, ok := r.entries[peer]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, peer)
	fn := r.onChange
	r.mu.Unlock()

	old.Stop()
	if fn != nil {
		fn(Change{Kind: RemoteRemoved, Peer: peer})
	}
	return true
}

// Clear stops every stream without reporting changes.
func (r *RemoteStreams) Clear() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[domain.PeerID]media.Stream)
	r.mu.Unlock()
	for _, s := range entries {
		s.Stop()
	}
}

func (r *RemoteStreams) Get(peer domain.PeerID) (media.Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[peer]
	return s, ok
}

func (r *RemoteStreams) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns the entries ordered by peer id.
func (r *RemoteStreams) List() []RemoteEntry {
	r.mu.RLock()
	out := make([]RemoteEntry, 0, len(r.entries))
	for p, s := range r.entries {
		out = append(out, RemoteEntry{Peer: p, Stream: s})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}
