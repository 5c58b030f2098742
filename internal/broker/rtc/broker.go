// Package rtc implements the connection broker on pion/webrtc. Each call is
// one PeerConnection; offers and answers travel through a broker.Negotiator.
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

type Broker struct {
	neg    broker.Negotiator
	config webrtc.Configuration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	id         domain.PeerID
	opened     bool
	closed     bool
	calls      map[*call]struct{}
	onIncoming func(broker.IncomingCall)
}

var _ broker.Broker = (*Broker)(nil)

func New(neg broker.Negotiator, cfg webrtc.Configuration) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		neg:    neg,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		calls:  make(map[*call]struct{}),
	}
}

func (b *Broker) Open(ctx context.Context) (domain.PeerID, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", broker.ErrClosed
	}
	if b.opened {
		id := b.id
		b.mu.Unlock()
		return id, nil
	}
	b.mu.Unlock()

	id := domain.NewPeerID()
	if err := b.neg.Listen(ctx, id); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrBrokerUnavailable, err)
	}

	b.mu.Lock()
	b.id = id
	b.opened = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume()
	log.Info().Str("module", "broker.rtc").Str("peer", string(id)).Msg("broker open")
	return id, nil
}

func (b *Broker) Call(ctx context.Context, remote domain.PeerID, local media.Stream) (broker.Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := newCall(b, remote)
	if err := b.track(c); err != nil {
		c.cancel()
		return nil, err
	}
	stop := context.AfterFunc(ctx, c.cancel)
	go func() {
		defer stop()
		c.dial(local)
	}()
	return c, nil
}

func (b *Broker) OnIncomingCall(fn func(broker.IncomingCall)) {
	b.mu.Lock()
	b.onIncoming = fn
	b.mu.Unlock()
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	calls := make([]*call, 0, len(b.calls))
	for c := range b.calls {
		calls = append(calls, c)
	}
	id := b.id
	b.mu.Unlock()

	b.cancel()
	for _, c := range calls {
		c.finish(nil)
	}
	err := b.neg.Close()
	b.wg.Wait()
	log.Info().Str("module", "broker.rtc").Str("peer", string(id)).Int("calls", len(calls)).Msg("broker closed")
	return err
}

func (b *Broker) track(c *call) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrClosed
	}
	if !b.opened {
		return broker.ErrNotOpen
	}
	b.calls[c] = struct{}{}
	return nil
}

func (b *Broker) forget(c *call) {
	b.mu.Lock()
	delete(b.calls, c)
	b.mu.Unlock()
}

func (b *Broker) consume() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case p, ok := <-b.neg.Consumer():
			if !ok {
				return
			}
			b.accept(p)
		}
	}
}

func (b *Broker) accept(p broker.OfferPromise) {
	c := newCall(b, p.From)
	c.promise = &p

	b.mu.Lock()
	handler := b.onIncoming
	b.mu.Unlock()
	if handler == nil {
		p.Respond(nil, broker.ErrRejected)
		c.cancel()
		return
	}
	if err := b.track(c); err != nil {
		p.Respond(nil, err)
		c.cancel()
		return
	}
	log.Debug().Str("module", "broker.rtc").Str("peer", string(p.From)).Msg("incoming call")
	handler(incomingCall{c})
}
