package rtc

import (
	"context"
	"errors"
	"fmt"

	"github.com/abhinavnt/codefolio-sub001/internal/broker"
	"github.com/abhinavnt/codefolio-sub001/internal/config"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errConnectionFailed = errors.New("rtc: peer connection failed")

// WebRTCConfig builds a pion configuration from configured ICE servers.
// An empty list yields host candidates only.
func WebRTCConfig(servers []config.ICEServer) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		cfg.ICEServers = append(cfg.ICEServers, ice)
	}
	return cfg
}

// peerConn wraps one pion PeerConnection to one remote peer. Negotiation is
// non-trickle: descriptions are exchanged once ICE gathering completes.
type peerConn struct {
	pc   *webrtc.PeerConnection
	peer domain.PeerID

	onTrack  func(track *webrtc.TrackRemote)
	onClosed func(error)
}

func newPeerConn(cfg webrtc.Configuration, peer domain.PeerID) (*peerConn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &peerConn{pc: pc, peer: peer}, nil
}

func (c *peerConn) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("peer", string(c.peer)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.onClosed == nil {
			return
		}
		if ended, err := closeCause(s); ended {
			c.onClosed(err)
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(track)
		}
	})
}

// closeCause maps a terminal connection state to the error the call closes
// with. A failed connection counts as a failed negotiation.
func closeCause(s webrtc.PeerConnectionState) (bool, error) {
	switch s {
	case webrtc.PeerConnectionStateFailed:
		return true, fmt.Errorf("%w: %w", broker.ErrNegotiationFailed, errConnectionFailed)
	case webrtc.PeerConnectionStateClosed:
		return true, nil
	}
	return false, nil
}

// addLocal attaches the local tracks. With recvMissing set, kinds the local
// stream lacks get a receive-only transceiver so the remote side can still
// send them.
func (c *peerConn) addLocal(local media.Stream, recvMissing bool) error {
	have := map[webrtc.RTPCodecType]bool{}
	if src, ok := local.(media.TrackSource); ok {
		for _, t := range src.LocalTracks() {
			if _, err := c.pc.AddTrack(t); err != nil {
				return err
			}
			have[t.Kind()] = true
		}
	}
	if !recvMissing {
		return nil
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *peerConn) createOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return c.setLocalAndGather(ctx, offer)
}

func (c *peerConn) setLocalAndGather(ctx context.Context, sd webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(sd); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.pc.LocalDescription(), nil
}

func (c *peerConn) applyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *peerConn) close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.peer)).Msg("close error")
		return
	}
	log.Debug().Str("module", "webrtc").Str("peer", string(c.peer)).Msg("closed")
}
