package broker

import (
	"context"

	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Negotiator carries SDP offers and answers between peer ids.
type Negotiator interface {
	// Listen registers id so offers addressed to it reach Consumer.
	Listen(ctx context.Context, id domain.PeerID) error
	// Offer sends offer to target and waits for its answer.
	Offer(ctx context.Context, target domain.PeerID, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// Consumer delivers inbound offers. Each must be responded to exactly once.
	Consumer() <-chan OfferPromise
	Close() error
}

type OfferPromiseResponse struct {
	Answer *webrtc.SessionDescription
	Error  error
}

// OfferPromise is an inbound offer awaiting an answer.
type OfferPromise struct {
	From     domain.PeerID
	Offer    webrtc.SessionDescription
	RespChan chan<- OfferPromiseResponse
}

// Respond delivers the answer or the error. RespChan must be buffered.
func (p OfferPromise) Respond(answer *webrtc.SessionDescription, err error) {
	select {
	case p.RespChan <- OfferPromiseResponse{Answer: answer, Error: err}:
	default:
	}
}
