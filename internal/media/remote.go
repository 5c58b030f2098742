package media

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RemoteStream aggregates the tracks one call delivers and drains their RTP.
type RemoteStream struct {
	id string

	mu      sync.Mutex
	tracks  map[string]string
	stopped bool

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

type RemoteStats struct {
	Tracks       []string
	Packets      uint64
	Bytes        uint64
	LastSequence uint16
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id, tracks: make(map[string]string)}
}

func (s *RemoteStream) ID() string { return s.id }

// AddTrack attaches a pion remote track. It reports whether the track was new.
func (s *RemoteStream) AddTrack(t *webrtc.TrackRemote) bool {
	return s.Consume(t.ID(), t.Kind().String(), func() (*rtp.Packet, error) {
		pkt, _, err := t.ReadRTP()
		return pkt, err
	})
}

// Consume registers a track and drains read until it fails or the stream is
// stopped. A track id already present is ignored.
func (s *RemoteStream) Consume(trackID, kind string, read func() (*rtp.Packet, error)) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.tracks[trackID]; ok {
		s.mu.Unlock()
		return false
	}
	s.tracks[trackID] = kind
	s.mu.Unlock()

	go s.drain(trackID, read)
	return true
}

func (s *RemoteStream) drain(trackID string, read func() (*rtp.Packet, error)) {
	for {
		pkt, err := read()
		if err != nil {
			log.Debug().Err(err).Str("module", "media").Str("stream", s.id).Str("track", trackID).Msg("remote track ended")
			return
		}
		if s.isStopped() {
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.lastSeq.Store(uint32(pkt.SequenceNumber))
	}
}

func (s *RemoteStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop stops accounting. Readers blocked on a track return when its peer
// connection closes.
func (s *RemoteStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *RemoteStream) Stats() RemoteStats {
	s.mu.Lock()
	kinds := make([]string, 0, len(s.tracks))
	for id, kind := range s.tracks {
		kinds = append(kinds, kind+":"+id)
	}
	s.mu.Unlock()
	sort.Strings(kinds)
	return RemoteStats{
		Tracks:       kinds,
		Packets:      s.packets.Load(),
		Bytes:        s.bytes.Load(),
		LastSequence: uint16(s.lastSeq.Load()),
	}
}
