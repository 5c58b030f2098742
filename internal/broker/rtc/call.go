package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/abhinavnt/codefolio-sub001/internal/broker"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type call struct {
	broker.Events

	b      *Broker
	peer   domain.PeerID
	ctx    context.Context
	cancel context.CancelFunc
	remote *media.RemoteStream

	mu       sync.Mutex
	pc       *peerConn
	promise  *broker.OfferPromise
	answered bool
	finished bool
}

func newCall(b *Broker, peer domain.PeerID) *call {
	ctx, cancel := context.WithCancel(b.ctx)
	return &call{
		b:      b,
		peer:   peer,
		ctx:    ctx,
		cancel: cancel,
		remote: media.NewRemoteStream(string(peer)),
	}
}

func (c *call) Peer() domain.PeerID { return c.peer }

func (c *call) Close() error {
	c.finish(nil)
	return nil
}

// finish tears the call down once. An unanswered inbound offer is rejected.
func (c *call) finish(err error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	pc, promise, answered := c.pc, c.promise, c.answered
	c.mu.Unlock()

	c.cancel()
	if promise != nil && !answered {
		promise.Respond(nil, broker.ErrRejected)
	}
	if pc != nil {
		pc.close()
	}
	c.remote.Stop()
	c.b.forget(c)
	c.EmitClose(err)
}

func (c *call) fail(stage string, err error) {
	log.Warn().Err(err).Str("module", "broker.rtc").Str("peer", string(c.peer)).Str("stage", stage).Msg("negotiation failed")
	c.finish(fmt.Errorf("%w: %s: %v", broker.ErrNegotiationFailed, stage, err))
}

// connect creates the peer connection and binds it to the call. It returns
// nil when the call was closed in the meantime.
func (c *call) connect() (*peerConn, error) {
	pc, err := newPeerConn(c.b.config, c.peer)
	if err != nil {
		return nil, err
	}
	pc.onTrack = func(track *webrtc.TrackRemote) {
		if c.remote.AddTrack(track) {
			c.EmitStream(c.remote)
		}
	}
	pc.onClosed = func(err error) { c.finish(err) }

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		pc.close()
		return nil, nil
	}
	c.pc = pc
	c.mu.Unlock()

	pc.start()
	return pc, nil
}

func (c *call) dial(local media.Stream) {
	pc, err := c.connect()
	if err != nil {
		c.fail("connect", err)
		return
	}
	if pc == nil {
		return
	}
	if err := pc.addLocal(local, true); err != nil {
		c.fail("tracks", err)
		return
	}
	offer, err := pc.createOffer(c.ctx)
	if err != nil {
		c.fail("offer", err)
		return
	}
	answer, err := c.b.neg.Offer(c.ctx, c.peer, *offer)
	if err != nil {
		c.fail("exchange", err)
		return
	}
	if err := pc.applyAnswer(*answer); err != nil {
		c.fail("answer", err)
		return
	}
	log.Debug().Str("module", "broker.rtc").Str("peer", string(c.peer)).Msg("outbound negotiated")
}

type incomingCall struct {
	*call
}

func (c incomingCall) Answer(local media.Stream) error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return broker.ErrClosed
	}
	if c.answered {
		c.mu.Unlock()
		return nil
	}
	c.answered = true
	promise := c.promise
	c.mu.Unlock()

	go c.accept(*promise, local)
	return nil
}

func (c incomingCall) accept(p broker.OfferPromise, local media.Stream) {
	respond := func(stage string, err error) {
		p.Respond(nil, err)
		c.fail(stage, err)
	}
	pc, err := c.connect()
	if err != nil {
		respond("connect", err)
		return
	}
	if pc == nil {
		p.Respond(nil, broker.ErrClosed)
		return
	}
	if err := pc.pc.SetRemoteDescription(p.Offer); err != nil {
		respond("offer", err)
		return
	}
	if err := pc.addLocal(local, false); err != nil {
		respond("tracks", err)
		return
	}
	answer, err := pc.pc.CreateAnswer(nil)
	if err != nil {
		respond("answer", err)
		return
	}
	sd, err := pc.setLocalAndGather(c.ctx, answer)
	if err != nil {
		respond("gather", err)
		return
	}
	p.Respond(sd, nil)
	log.Debug().Str("module", "broker.rtc").Str("peer", string(c.peer)).Msg("inbound negotiated")
}
