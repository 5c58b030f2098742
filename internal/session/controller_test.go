package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhinavnt/codefolio-sub001/internal/app"
	"github.com/abhinavnt/codefolio-sub001/internal/broker"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/media"
	"github.com/abhinavnt/codefolio-sub001/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	room    = domain.RoomID("booking-42")
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type participant struct {
	ctl   *Controller
	rec   *recorder
	sig   *fakeSignal
	brk   *fakeBroker
	local *fakeStream

	mu      sync.Mutex
	removed map[domain.PeerID]int
	states  []State
}

func (p *participant) removals(peer domain.PeerID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed[peer]
}

func (p *participant) transitions() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.states...)
}

func newParticipant(t *testing.T, reg *app.Registry, net *meshNet) *participant {
	t.Helper()
	p := &participant{rec: &recorder{}, removed: map[domain.PeerID]int{}}
	p.sig = newFakeSignal(reg, p.rec)
	p.brk = net.broker(p.rec)

	ctl, err := New(Config{
		Room:   room,
		Media:  acquirer(p.rec, &p.local),
		Broker: p.brk,
		Signal: p.sig,
	},
		WithObserver(func(_, to State) {
			p.mu.Lock()
			p.states = append(p.states, to)
			p.mu.Unlock()
		}),
		WithRemoteObserver(func(c Change) {
			if c.Kind == RemoteRemoved {
				p.mu.Lock()
				p.removed[c.Peer]++
				p.mu.Unlock()
			}
		}),
	)
	require.NoError(t, err)
	p.ctl = ctl
	t.Cleanup(func() { _ = ctl.Leave(context.Background()) })
	return p
}

func joinAll(t *testing.T, n int) ([]*participant, *meshNet, *app.Registry) {
	t.Helper()
	reg := app.NewRegistry()
	net := newMeshNet()
	ps := make([]*participant, n)
	for i := range ps {
		ps[i] = newParticipant(t, reg, net)
		require.NoError(t, ps[i].ctl.Start(context.Background()))
		require.Equal(t, StateConnected, ps[i].ctl.State())
	}
	return ps, net, reg
}

func meshed(ps []*participant, want int) func() bool {
	return func() bool {
		for _, p := range ps {
			if p.ctl.Remotes().Len() != want {
				return false
			}
		}
		return true
	}
}

func TestSequentialJoinsBuildFullMesh(t *testing.T) {
	const n = 4
	ps, _, reg := joinAll(t, n)

	require.Eventually(t, meshed(ps, n-1), waitFor, tick)
	assert.Len(t, reg.Members(room), n)

	for _, p := range ps {
		for _, e := range p.ctl.Remotes().List() {
			assert.NotEqual(t, p.ctl.PeerID(), e.Peer, "no entry for self")
		}
	}
}

// The member told about a newcomer places the call and the newcomer answers.
// The newcomer cannot call first: it never learns who is already in the room.
func TestEachPairHasExactlyOneInitiator(t *testing.T) {
	const n = 4
	ps, net, _ := joinAll(t, n)
	require.Eventually(t, meshed(ps, n-1), waitFor, tick)

	order := map[domain.PeerID]int{}
	for i, p := range ps {
		order[p.ctl.PeerID()] = i
	}
	seen := map[[2]domain.PeerID]int{}
	for _, pr := range net.pairs() {
		key := [2]domain.PeerID{pr.from, pr.to}
		if pr.to < pr.from {
			key = [2]domain.PeerID{pr.to, pr.from}
		}
		seen[key]++
		assert.Less(t, order[pr.from], order[pr.to], "existing member calls the newcomer")
	}
	assert.Len(t, seen, n*(n-1)/2)
	for k, v := range seen {
		assert.Equal(t, 1, v, "pair %v", k)
	}
}

func TestDepartureRemovesExactlyOneEntry(t *testing.T) {
	const n = 4
	ps, _, reg := joinAll(t, n)
	require.Eventually(t, meshed(ps, n-1), waitFor, tick)

	leaver := ps[1]
	gone := leaver.ctl.PeerID()
	require.NoError(t, leaver.ctl.Leave(context.Background()))
	assert.Equal(t, StateClosed, leaver.ctl.State())
	assert.Zero(t, leaver.ctl.Remotes().Len())

	rest := []*participant{ps[0], ps[2], ps[3]}
	require.Eventually(t, meshed(rest, n-2), waitFor, tick)
	assert.Len(t, reg.Members(room), n-1)

	time.Sleep(50 * time.Millisecond)
	for _, p := range rest {
		assert.Equal(t, 1, p.removals(gone))
		_, ok := p.ctl.Remotes().Get(gone)
		assert.False(t, ok)
	}
}

func TestLeaveOrder(t *testing.T) {
	ps, _, _ := joinAll(t, 3)
	require.Eventually(t, meshed(ps, 2), waitFor, tick)

	p := ps[0]
	require.NoError(t, p.ctl.Leave(context.Background()))
	<-p.ctl.Done()

	ops := p.rec.list()
	require.NotEmpty(t, ops)
	assert.Equal(t, []string{"media.stop", "call.close", "call.close", "broker.close", "signal.close"}, ops)
	assert.True(t, p.local.stopped.Load())
	assert.Equal(t, []State{StateAcquiringMedia, StateRegisteringPeer, StateJoiningRoom, StateConnected, StateLeaving, StateClosed}, p.transitions())
	assert.NoError(t, p.ctl.Err())
}

func TestLeaveIsIdempotent(t *testing.T) {
	ps, _, _ := joinAll(t, 1)
	ctl := ps[0].ctl
	require.NoError(t, ctl.Leave(context.Background()))
	require.NoError(t, ctl.Leave(context.Background()))
	assert.Equal(t, StateClosed, ctl.State())
	assert.ErrorIs(t, ctl.Start(context.Background()), ErrClosed)
}

func TestLeaveBeforeStart(t *testing.T) {
	p := newParticipant(t, app.NewRegistry(), newMeshNet())
	require.NoError(t, p.ctl.Leave(context.Background()))
	assert.Equal(t, StateClosed, p.ctl.State())
	assert.NotContains(t, p.rec.list(), "media.stop")
	select {
	case <-p.ctl.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestStartTwice(t *testing.T) {
	ps, _, _ := joinAll(t, 1)
	assert.ErrorIs(t, ps[0].ctl.Start(context.Background()), ErrAlreadyStarted)
}

func TestRejoinAfterRoomEmptiedIsFirstJoin(t *testing.T) {
	reg := app.NewRegistry()
	net := newMeshNet()

	first := newParticipant(t, reg, net)
	require.NoError(t, first.ctl.Start(context.Background()))
	require.NoError(t, first.ctl.Leave(context.Background()))
	assert.Empty(t, reg.Rooms())

	again := newParticipant(t, reg, net)
	require.NoError(t, again.ctl.Start(context.Background()))
	assert.Equal(t, []domain.PeerID{again.ctl.PeerID()}, reg.Members(room))
	assert.Zero(t, again.ctl.Remotes().Len())
}

func TestMediaDenied(t *testing.T) {
	reg := app.NewRegistry()
	rec := &recorder{}
	sig := newFakeSignal(reg, rec)
	brk := newMeshNet().broker(rec)

	ctl, err := New(Config{
		Room:   room,
		Media:  media.AcquirerFunc(func(context.Context) (media.Stream, error) { return nil, media.ErrMediaDenied }),
		Broker: brk,
		Signal: sig,
	})
	require.NoError(t, err)

	err = ctl.Start(context.Background())
	assert.ErrorIs(t, err, media.ErrMediaDenied)
	assert.Equal(t, StateError, ctl.State())
	assert.ErrorIs(t, ctl.Err(), media.ErrMediaDenied)
	assert.False(t, brk.wasOpened())
	assert.Contains(t, rec.list(), "signal.close")
	assert.Empty(t, reg.Rooms())
	<-ctl.Done()
}

func TestBrokerUnavailable(t *testing.T) {
	reg := app.NewRegistry()
	rec := &recorder{}
	sig := newFakeSignal(reg, rec)
	brk := newMeshNet().broker(rec)
	brk.openErr = errors.New("refused")
	var local *fakeStream

	ctl, err := New(Config{Room: room, Media: acquirer(rec, &local), Broker: brk, Signal: sig})
	require.NoError(t, err)

	err = ctl.Start(context.Background())
	assert.ErrorIs(t, err, broker.ErrBrokerUnavailable)
	assert.Equal(t, StateError, ctl.State())
	assert.True(t, local.stopped.Load(), "local tracks released")
	assert.Equal(t, []string{"media.stop", "broker.close", "signal.close"}, rec.list())
	assert.Empty(t, reg.Rooms(), "never joined")
}

func TestJoinSendFailure(t *testing.T) {
	reg := app.NewRegistry()
	rec := &recorder{}
	sig := newFakeSignal(reg, rec)
	sig.joinErr = errors.New("socket closed")
	var local *fakeStream

	ctl, err := New(Config{Room: room, Media: acquirer(rec, &local), Broker: newMeshNet().broker(rec), Signal: sig})
	require.NoError(t, err)

	assert.Error(t, ctl.Start(context.Background()))
	assert.Equal(t, StateError, ctl.State())
	assert.True(t, local.stopped.Load())
}

func TestNegotiationFailureIsIsolated(t *testing.T) {
	reg := app.NewRegistry()
	net := newMeshNet()

	a := newParticipant(t, reg, net)
	b := newParticipant(t, reg, net)
	require.NoError(t, a.ctl.Start(context.Background()))
	require.NoError(t, b.ctl.Start(context.Background()))
	require.Eventually(t, meshed([]*participant{a, b}, 1), waitFor, tick)

	net.failNewCalls()
	c := newParticipant(t, reg, net)
	require.NoError(t, c.ctl.Start(context.Background()))

	require.Eventually(t, func() bool { return len(net.pairs()) == 3 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateConnected, a.ctl.State())
	assert.Equal(t, StateConnected, b.ctl.State())
	assert.Equal(t, StateConnected, c.ctl.State())

	_, ok := a.ctl.Remotes().Get(b.ctl.PeerID())
	assert.True(t, ok, "existing pair unaffected")
	_, ok = b.ctl.Remotes().Get(a.ctl.PeerID())
	assert.True(t, ok)
	assert.Equal(t, 1, a.ctl.Remotes().Len())
	assert.Equal(t, 1, b.ctl.Remotes().Len())
	assert.Zero(t, c.ctl.Remotes().Len())
}

func TestTransportDropEndsInError(t *testing.T) {
	ps, _, reg := joinAll(t, 2)
	require.Eventually(t, meshed(ps, 1), waitFor, tick)

	dropped := ps[0]
	dropped.sig.drop()

	select {
	case <-dropped.ctl.Done():
	case <-time.After(waitFor):
		t.Fatal("controller did not stop")
	}
	assert.Equal(t, StateError, dropped.ctl.State())
	assert.ErrorIs(t, dropped.ctl.Err(), ErrTransportDropped)
	assert.True(t, dropped.local.stopped.Load())

	require.Eventually(t, meshed(ps[1:], 0), waitFor, tick)
	assert.Equal(t, []domain.PeerID{ps[1].ctl.PeerID()}, reg.Members(room))
}

func TestContextCancelLeaves(t *testing.T) {
	reg := app.NewRegistry()
	p := newParticipant(t, reg, newMeshNet())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.ctl.Start(ctx))

	cancel()
	select {
	case <-p.ctl.Done():
	case <-time.After(waitFor):
		t.Fatal("controller did not stop")
	}
	assert.Equal(t, StateClosed, p.ctl.State())
	assert.Empty(t, reg.Rooms())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Room: ""})
	assert.ErrorIs(t, err, domain.ErrRoomIDEmpty)

	_, err = New(Config{Room: room})
	assert.Error(t, err)
}

func TestLoopKeepsRunningWhenClosingCallsUnderLoad(t *testing.T) {
	ps, net, reg := joinAll(t, 2)
	require.Eventually(t, meshed(ps, 1), waitFor, tick)
	a, b := ps[0], ps[1]
	gone := b.ctl.PeerID()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	a.ctl.Remotes().OnChange(func(c Change) {
		if c.Kind == RemoteRemoved && c.Peer == gone {
			once.Do(func() { close(entered) })
			<-release
		}
	})

	reg.OnTransportClose(b.sig.server)
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("departure not processed")
	}

	// Pile up inbound calls while the loop is busy removing the departed peer.
	const burst = 100
	for i := 0; i < burst; i++ {
		src := net.broker(nil)
		_, err := src.Open(context.Background())
		require.NoError(t, err)
		_, err = src.Call(context.Background(), a.ctl.PeerID(), nil)
		require.NoError(t, err)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return a.ctl.Remotes().Len() == burst }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.ctl.Leave(ctx))
	assert.Equal(t, StateClosed, a.ctl.State())
	assert.True(t, a.local.stopped.Load())
}

// simultaneousCall has a and a raw broker with id remote call each other and
// returns a's outbound call as seen by remote and remote's outbound call.
func simultaneousCall(t *testing.T, self, remote domain.PeerID) (*participant, *fakeCall, *fakeCall) {
	t.Helper()
	reg := app.NewRegistry()
	net := newMeshNet()
	a := newParticipant(t, reg, net)
	a.brk.id = self
	require.NoError(t, a.ctl.Start(context.Background()))

	other := net.broker(nil)
	other.id = remote
	_, err := other.Open(context.Background())
	require.NoError(t, err)
	fromA := make(chan broker.IncomingCall, 1)
	other.OnIncomingCall(func(ic broker.IncomingCall) { fromA <- ic })

	a.sig.events <- protocol.UserConnected(remote)
	var in broker.IncomingCall
	select {
	case in = <-fromA:
	case <-time.After(waitFor):
		t.Fatal("no call from a")
	}

	out, err := other.Call(context.Background(), self, nil)
	require.NoError(t, err)
	return a, in.(*fakeCall), out.(*fakeCall)
}

func TestSimultaneousCallsKeepLowerInitiator(t *testing.T) {
	t.Run("own call wins", func(t *testing.T) {
		a, fromA, toA := simultaneousCall(t, "peer-a", "peer-b")

		require.Eventually(t, toA.Closed, waitFor, tick, "inbound duplicate rejected")
		assert.False(t, fromA.Closed())

		require.NoError(t, fromA.Answer(nil))
		require.Eventually(t, func() bool { return a.ctl.Remotes().Len() == 1 }, waitFor, tick)
		_, ok := a.ctl.Remotes().Get("peer-b")
		assert.True(t, ok)
	})

	t.Run("remote call wins", func(t *testing.T) {
		a, fromA, toA := simultaneousCall(t, "peer-z", "peer-b")

		require.Eventually(t, fromA.Closed, waitFor, tick, "own call dropped")
		require.Eventually(t, func() bool { return a.ctl.Remotes().Len() == 1 }, waitFor, tick)
		_, ok := a.ctl.Remotes().Get("peer-b")
		assert.True(t, ok)
		assert.False(t, toA.Closed())
	})
}
