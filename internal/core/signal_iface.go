package core

import (
	"errors"

	"github.com/abhinavnt/codefolio-sub001/internal/domain"
)

// Frame is an encoded signaling message.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts the server side of a signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues a frame without blocking. It returns ErrBackpressure when
	// the outbound queue is full and ErrConnClosed after Close.
	TrySend(Frame) error
	Close()
}

// Identified is implemented by connections that carry the caller identity
// established by the HTTP layer.
type Identified interface {
	Caller() domain.UserID
}
