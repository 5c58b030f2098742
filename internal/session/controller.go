// Package session drives one participant through a mesh call: acquire local
// media, register a peer id with the broker, join the room and keep one call
// per remote member until leaving.
//
// All transitions after Start run on a single event loop. Broker and
// signaling callbacks only enqueue events, so handlers never race each other.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/abhinavnt/codefolio-sub001/internal/broker"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/media"
	"github.com/abhinavnt/codefolio-sub001/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrTransportDropped = errors.New("session: signaling transport dropped")
	ErrNotConnected     = errors.New("session: not connected")
	ErrClosed           = errors.New("session: closed")
	ErrAlreadyStarted   = errors.New("session: already started")
)

// SignalChannel is the participant's connection to the signaling server.
type SignalChannel interface {
	Join(ctx context.Context, room domain.RoomID, peer domain.PeerID) error
	// Events is closed when the connection ends.
	Events() <-chan protocol.Message
	Close() error
}

type Config struct {
	Room   domain.RoomID
	Media  media.Acquirer
	Broker broker.Broker
	Signal SignalChannel
}

type Option func(*Controller)

// WithObserver registers fn to receive every state transition.
func WithObserver(fn func(from, to State)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithRemoteObserver registers fn to receive remote registry changes.
func WithRemoteObserver(fn func(Change)) Option {
	return func(c *Controller) { c.remotes.OnChange(fn) }
}

type Controller struct {
	room     domain.RoomID
	acquirer media.Acquirer
	broker   broker.Broker
	signal   SignalChannel
	remotes  *RemoteStreams
	observer func(from, to State)
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
	peer  domain.PeerID
	err   error

	// owned by whoever runs transitions: Start's goroutine, then the loop
	local media.Stream
	calls map[domain.PeerID]broker.Call

	qmu   sync.Mutex
	queue []event
	wake  chan struct{}

	leave    chan struct{}
	stopping chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := domain.ValidateRoomID(cfg.Room); err != nil {
		return nil, err
	}
	if cfg.Media == nil || cfg.Broker == nil || cfg.Signal == nil {
		return nil, errors.New("session: media, broker and signal are required")
	}
	c := &Controller{
		room:     cfg.Room,
		acquirer: cfg.Media,
		broker:   cfg.Broker,
		signal:   cfg.Signal,
		remotes:  NewRemoteStreams(),
		logger:   log.With().Str("module", "session").Str("room", string(cfg.Room)).Logger(),
		calls:    make(map[domain.PeerID]broker.Call),
		wake:     make(chan struct{}, 1),
		leave:    make(chan struct{}),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerID is empty until the broker has been opened.
func (c *Controller) PeerID() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Err is the cause of an ERROR state.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Remotes() *RemoteStreams { return c.remotes }

// Done is closed once the controller reaches CLOSED or ERROR.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}
	c.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("state")
	if c.observer != nil {
		c.observer(from, to)
	}
}

// Start runs the join sequence on the caller's goroutine and, once CONNECTED,
// hands over to the event loop. ctx bounds the whole session: cancelling it
// leaves the room. On failure every acquired resource is released and the
// controller ends in ERROR.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInit {
		st := c.state
		c.mu.Unlock()
		if st.Terminal() {
			return ErrClosed
		}
		return ErrAlreadyStarted
	}
	c.state = StateAcquiringMedia
	c.mu.Unlock()
	c.logger.Info().Str("from", StateInit.String()).Str("to", StateAcquiringMedia.String()).Msg("state")
	if c.observer != nil {
		c.observer(StateInit, StateAcquiringMedia)
	}

	local, err := c.acquirer.Acquire(ctx)
	if err != nil {
		return c.abort(err)
	}
	c.local = local

	c.setState(StateRegisteringPeer)
	c.broker.OnIncomingCall(func(ic broker.IncomingCall) { c.post(incomingEvent{call: ic}) })
	peer, err := c.broker.Open(ctx)
	if err != nil {
		return c.abort(err)
	}
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()
	c.logger = c.logger.With().Str("peer", string(peer)).Logger()

	c.setState(StateJoiningRoom)
	if err := c.signal.Join(ctx, c.room, peer); err != nil {
		return c.abort(err)
	}

	c.setState(StateConnected)
	go c.run(ctx)
	return nil
}

func (c *Controller) abort(err error) error {
	c.logger.Error().Err(err).Str("state", c.State().String()).Msg("start failed")
	c.teardown(StateError, err)
	return err
}

// Leave tears the session down: local tracks are stopped first, then every
// call is closed, then the broker, then the signaling connection. Calling it
// again after the controller finished is a no-op.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	if st == StateInit {
		c.mu.Unlock()
		c.teardown(StateClosed, nil)
		return nil
	}
	c.mu.Unlock()
	if st.Terminal() {
		return nil
	}

	select {
	case c.leave <- struct{}{}:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands an event to the loop and never blocks, so the loop may post to
// itself (closing a call fires its OnClose). Events posted after teardown
// began are dropped.
func (c *Controller) post(ev event) {
	select {
	case <-c.stopping:
		return
	default:
	}
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) drain(ctx context.Context) {
	c.qmu.Lock()
	evs := c.queue
	c.queue = nil
	c.qmu.Unlock()
	for _, ev := range evs {
		ev.apply(ctx, c)
	}
}

func (c *Controller) run(ctx context.Context) {
	signals := c.signal.Events()
	for {
		select {
		case msg, ok := <-signals:
			if !ok {
				c.logger.Warn().Msg("signaling connection lost")
				c.teardown(StateError, ErrTransportDropped)
				return
			}
			c.handleSignal(ctx, msg)
		case <-c.wake:
			c.drain(ctx)
		case <-c.leave:
			c.teardown(StateClosed, nil)
			return
		case <-ctx.Done():
			c.teardown(StateClosed, nil)
			return
		}
	}
}

// teardown releases everything in leave order and moves to final. A nil
// cause with a started session passes through LEAVING.
func (c *Controller) teardown(final State, cause error) {
	if final == StateClosed && c.State() != StateInit {
		c.setState(StateLeaving)
	}
	c.stopOnce.Do(func() { close(c.stopping) })

	if c.local != nil {
		c.local.Stop()
	}
	for peer, call := range c.calls {
		delete(c.calls, peer)
		_ = call.Close()
	}
	c.remotes.Clear()
	if err := c.broker.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("broker close")
	}
	if err := c.signal.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("signal close")
	}

	c.mu.Lock()
	c.err = cause
	c.mu.Unlock()
	c.setState(final)
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) handleSignal(ctx context.Context, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeUserConnected:
		c.onUserConnected(ctx, msg.PeerID)
	case protocol.TypeUserDisconnected:
		c.onUserDisconnected(msg.PeerID)
	default:
		c.logger.Warn().Str("type", string(msg.Type)).Msg("unexpected signaling message")
	}
}

// onUserConnected places the outbound call. The member that learns about a
// newcomer initiates; the newcomer only answers, so each pair gets one call.
func (c *Controller) onUserConnected(ctx context.Context, peer domain.PeerID) {
	if peer == c.PeerID() {
		return
	}
	if _, ok := c.calls[peer]; ok {
		return
	}
	call, err := c.broker.Call(ctx, peer, c.local)
	if err != nil {
		c.logger.Warn().Err(err).Str("remote", string(peer)).Msg("call failed")
		return
	}
	c.logger.Info().Str("remote", string(peer)).Msg("calling")
	c.bind(call)
}

func (c *Controller) onUserDisconnected(peer domain.PeerID) {
	removed := c.remotes.Remove(peer)
	if call, ok := c.calls[peer]; ok {
		delete(c.calls, peer)
		_ = call.Close()
	}
	c.logger.Info().Str("remote", string(peer)).Bool("had_stream", removed).Msg("peer left")
}

func (c *Controller) onIncoming(ic broker.IncomingCall) {
	peer := ic.Peer()
	if c.State() != StateConnected {
		_ = ic.Close()
		return
	}
	if existing, ok := c.calls[peer]; ok {
		// Both sides initiated. The call started by the lower peer id wins.
		if c.PeerID() < peer {
			c.logger.Debug().Str("remote", string(peer)).Msg("rejecting duplicate inbound call")
			_ = ic.Close()
			return
		}
		delete(c.calls, peer)
		_ = existing.Close()
	}
	if err := ic.Answer(c.local); err != nil {
		c.logger.Warn().Err(err).Str("remote", string(peer)).Msg("answer failed")
		_ = ic.Close()
		return
	}
	c.logger.Info().Str("remote", string(peer)).Msg("answering")
	c.bind(ic)
}

func (c *Controller) bind(call broker.Call) {
	c.calls[call.Peer()] = call
	call.OnStream(func(s media.Stream) { c.post(streamEvent{call: call, stream: s}) })
	call.OnClose(func(err error) { c.post(closedEvent{call: call, err: err}) })
}

func (c *Controller) current(call broker.Call) bool {
	cur, ok := c.calls[call.Peer()]
	return ok && cur == call
}

type event interface {
	apply(ctx context.Context, c *Controller)
}

type incomingEvent struct{ call broker.IncomingCall }

func (e incomingEvent) apply(_ context.Context, c *Controller) { c.onIncoming(e.call) }

type streamEvent struct {
	call   broker.Call
	stream media.Stream
}

func (e streamEvent) apply(_ context.Context, c *Controller) {
	if !c.current(e.call) {
		return
	}
	if c.remotes.Upsert(e.call.Peer(), e.stream) {
		c.logger.Info().Str("remote", string(e.call.Peer())).Int("remotes", c.remotes.Len()).Msg("remote stream")
	}
}

type closedEvent struct {
	call broker.Call
	err  error
}

func (e closedEvent) apply(_ context.Context, c *Controller) {
	if !c.current(e.call) {
		return
	}
	peer := e.call.Peer()
	delete(c.calls, peer)
	c.remotes.Remove(peer)
	if e.err != nil {
		c.logger.Warn().Err(e.err).Str("remote", string(peer)).Msg("call failed")
		return
	}
	c.logger.Info().Str("remote", string(peer)).Msg("call closed")
}
