package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/abhinavnt/codefolio-sub001/internal/app"
	"github.com/abhinavnt/codefolio-sub001/internal/broker"
	"github.com/abhinavnt/codefolio-sub001/internal/core"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/media"
	"github.com/abhinavnt/codefolio-sub001/internal/protocol"
)

// recorder keeps the order of teardown operations of one participant.
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(op string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type fakeStream struct {
	id      string
	rec     *recorder
	stopped atomic.Bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		s.rec.add("media.stop")
	}
}

func acquirer(rec *recorder, local **fakeStream) media.Acquirer {
	return media.AcquirerFunc(func(context.Context) (media.Stream, error) {
		s := &fakeStream{id: "local", rec: rec}
		if local != nil {
			*local = s
		}
		return s, nil
	})
}

// fakeSignal connects a controller straight to a Registry.
type fakeSignal struct {
	reg    *app.Registry
	rec    *recorder
	server *serverSide

	mu      sync.Mutex
	events  chan protocol.Message
	closed  bool
	joinErr error
}

type serverSide struct{ s *fakeSignal }

func (ss *serverSide) TrySend(f core.Frame) error {
	msg, err := protocol.Decode(f)
	if err != nil {
		return err
	}
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrConnClosed
	}
	select {
	case s.events <- msg:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (ss *serverSide) Close() { ss.s.closeEvents() }

func newFakeSignal(reg *app.Registry, rec *recorder) *fakeSignal {
	s := &fakeSignal{reg: reg, rec: rec, events: make(chan protocol.Message, 256)}
	s.server = &serverSide{s: s}
	return s
}

func (s *fakeSignal) Join(_ context.Context, room domain.RoomID, peer domain.PeerID) error {
	if s.joinErr != nil {
		return s.joinErr
	}
	return s.reg.Join(room, peer, s.server)
}

func (s *fakeSignal) Events() <-chan protocol.Message { return s.events }

func (s *fakeSignal) Close() error {
	s.rec.add("signal.close")
	s.drop()
	return nil
}

// drop simulates the transport dying under the client.
func (s *fakeSignal) drop() {
	s.reg.OnTransportClose(s.server)
	s.closeEvents()
}

func (s *fakeSignal) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

type pair struct{ from, to domain.PeerID }

// meshNet connects fake brokers in memory.
type meshNet struct {
	mu        sync.Mutex
	brokers   map[domain.PeerID]*fakeBroker
	initiated []pair
	failing   bool
}

func newMeshNet() *meshNet {
	return &meshNet{brokers: map[domain.PeerID]*fakeBroker{}}
}

func (n *meshNet) broker(rec *recorder) *fakeBroker {
	return &fakeBroker{net: n, rec: rec}
}

// failNewCalls makes every call placed from now on fail negotiation.
func (n *meshNet) failNewCalls() {
	n.mu.Lock()
	n.failing = true
	n.mu.Unlock()
}

func (n *meshNet) pairs() []pair {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pair(nil), n.initiated...)
}

// fakeBroker assigns a random peer id on Open unless id is preset.
type fakeBroker struct {
	net     *meshNet
	rec     *recorder
	openErr error

	mu      sync.Mutex
	id      domain.PeerID
	opened  bool
	closed  bool
	handler func(broker.IncomingCall)
	calls   map[*fakeCall]struct{}
}

func (b *fakeBroker) Open(context.Context) (domain.PeerID, error) {
	if b.openErr != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrBrokerUnavailable, b.openErr)
	}
	b.mu.Lock()
	if b.id == "" {
		b.id = domain.NewPeerID()
	}
	b.opened = true
	b.calls = map[*fakeCall]struct{}{}
	id := b.id
	b.mu.Unlock()

	b.net.mu.Lock()
	b.net.brokers[id] = b
	b.net.mu.Unlock()
	return id, nil
}

func (b *fakeBroker) wasOpened() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

func (b *fakeBroker) Call(_ context.Context, remote domain.PeerID, local media.Stream) (broker.Call, error) {
	b.mu.Lock()
	if !b.opened || b.closed {
		b.mu.Unlock()
		return nil, broker.ErrClosed
	}
	out := &fakeCall{owner: b, peer: remote}
	b.calls[out] = struct{}{}
	self := b.id
	b.mu.Unlock()

	b.net.mu.Lock()
	b.net.initiated = append(b.net.initiated, pair{from: self, to: remote})
	target, ok := b.net.brokers[remote]
	fail := b.net.failing
	b.net.mu.Unlock()

	go func() {
		if !ok || fail {
			out.finish(fmt.Errorf("%w: %s unreachable", broker.ErrNegotiationFailed, remote))
			return
		}
		in := &fakeCall{owner: target, peer: self, other: out}
		out.setOther(in)
		if !target.deliver(in) {
			out.finish(fmt.Errorf("%w: %v", broker.ErrNegotiationFailed, broker.ErrRejected))
		}
	}()
	return out, nil
}

func (b *fakeBroker) deliver(in *fakeCall) bool {
	b.mu.Lock()
	if b.closed || b.handler == nil {
		b.mu.Unlock()
		return false
	}
	b.calls[in] = struct{}{}
	h := b.handler
	b.mu.Unlock()
	h(in)
	return true
}

func (b *fakeBroker) OnIncomingCall(fn func(broker.IncomingCall)) {
	b.mu.Lock()
	b.handler = fn
	b.mu.Unlock()
}

func (b *fakeBroker) Close() error {
	b.rec.add("broker.close")
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	calls := make([]*fakeCall, 0, len(b.calls))
	for c := range b.calls {
		calls = append(calls, c)
	}
	id := b.id
	b.mu.Unlock()

	for _, c := range calls {
		c.hangup()
	}
	b.net.mu.Lock()
	delete(b.net.brokers, id)
	b.net.mu.Unlock()
	return nil
}

type fakeCall struct {
	broker.Events

	owner *fakeBroker
	peer  domain.PeerID

	mu       sync.Mutex
	other    *fakeCall
	answered bool
}

func (c *fakeCall) Peer() domain.PeerID { return c.peer }

func (c *fakeCall) setOther(o *fakeCall) {
	c.mu.Lock()
	c.other = o
	c.mu.Unlock()
}

func (c *fakeCall) Answer(media.Stream) error {
	c.mu.Lock()
	if c.answered {
		c.mu.Unlock()
		return errors.New("answered twice")
	}
	c.answered = true
	other := c.other
	c.mu.Unlock()
	if c.Closed() {
		return broker.ErrClosed
	}
	// Each side receives a stream standing for the other's media.
	other.EmitStream(&fakeStream{id: "remote-of-" + string(c.owner.peerID())})
	c.EmitStream(&fakeStream{id: "remote-of-" + string(other.owner.peerID())})
	return nil
}

func (c *fakeCall) Close() error {
	c.owner.rec.add("call.close")
	c.hangup()
	return nil
}

// hangup ends both ends of the call.
func (c *fakeCall) hangup() {
	c.finish(nil)
	c.mu.Lock()
	other := c.other
	c.mu.Unlock()
	if other != nil {
		other.finish(nil)
	}
}

func (c *fakeCall) finish(err error) {
	c.EmitClose(err)
	c.owner.mu.Lock()
	delete(c.owner.calls, c)
	c.owner.mu.Unlock()
}

func (b *fakeBroker) peerID() domain.PeerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}
