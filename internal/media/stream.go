// Package media holds the local and remote media streams exchanged over the
// mesh. A local stream is owned by one session and shared read-only by every
// call; a remote stream aggregates the tracks one call delivers.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	ErrMediaDenied      = errors.New("media: capture permission denied")
	ErrMediaUnavailable = errors.New("media: no capture source available")
)

type Stream interface {
	ID() string
	// Stop releases the stream. Safe to call more than once.
	Stop()
}

// TrackSource is implemented by streams that can be attached to a peer
// connection.
type TrackSource interface {
	LocalTracks() []webrtc.TrackLocal
}

type Acquirer interface {
	Acquire(ctx context.Context) (Stream, error)
}

type AcquirerFunc func(ctx context.Context) (Stream, error)

func (f AcquirerFunc) Acquire(ctx context.Context) (Stream, error) { return f(ctx) }
