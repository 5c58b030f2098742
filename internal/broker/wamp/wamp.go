// Package wamp carries SDP offers and answers between mesh peers as RPC over
// WebSockets. The router runs inside the signaling server; every client
// registers a procedure named after its peer id, and an offer is a call to
// that procedure whose result is the answer.
package wamp

import (
	stdlog "log"

	"github.com/rs/zerolog/log"
)

const (
	// ErrProcessingOffer is returned to the caller when the callee could not
	// produce an answer.
	ErrProcessingOffer = "mesh.error.processing_offer"

	DefaultRealm = "mesh"
)

func newLogger(component string) *stdlog.Logger {
	return stdlog.New(log.With().Str("module", "broker.wamp").Str("component", component).Logger(), "", 0)
}
