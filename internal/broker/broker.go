// Package broker defines the connection broker: the component that owns a
// peer id, negotiates one media connection per remote peer and reports the
// remote media those connections deliver.
//
// Implementations must never block the caller on negotiation. Call and Answer
// return at once; outcomes arrive through the handle's OnStream and OnClose
// callbacks, which may run on any goroutine.
package broker

import (
	"context"
	"errors"

	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/media"
)

var (
	ErrBrokerUnavailable = errors.New("broker: unavailable")
	ErrNegotiationFailed = errors.New("broker: negotiation failed")
	ErrClosed            = errors.New("broker: closed")
	ErrNotOpen           = errors.New("broker: not open")
	ErrRejected          = errors.New("broker: call rejected")
)

type Broker interface {
	// Open assigns this client's peer id and registers it with the
	// negotiation infrastructure. Failures wrap ErrBrokerUnavailable.
	Open(ctx context.Context) (domain.PeerID, error)
	// Call starts an outbound negotiation to remote carrying local.
	Call(ctx context.Context, remote domain.PeerID, local media.Stream) (Call, error)
	// OnIncomingCall sets the handler for inbound calls. Calls arriving with
	// no handler set are rejected.
	OnIncomingCall(func(IncomingCall))
	// Close abandons in-flight negotiations, closes every call and releases
	// the peer id.
	Close() error
}

type Call interface {
	Peer() domain.PeerID
	// OnStream is invoked for every remote stream event, including those
	// that happened before the handler was set.
	OnStream(func(media.Stream))
	// OnClose is invoked once, with nil for an orderly close.
	OnClose(func(error))
	Close() error
}

type IncomingCall interface {
	Call
	// Answer completes the negotiation with local. Closing an unanswered
	// call rejects it.
	Answer(local media.Stream) error
}
