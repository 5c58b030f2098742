package broker

import (
	"sync"

	"github.com/abhinavnt/codefolio-sub001/internal/media"
)

// Events implements the callback half of Call. Events emitted before a
// handler is set are replayed to it.
type Events struct {
	mu       sync.Mutex
	streams  []media.Stream
	onStream func(media.Stream)

	closed   bool
	closeErr error
	onClose  func(error)
}

func (e *Events) OnStream(fn func(media.Stream)) {
	e.mu.Lock()
	e.onStream = fn
	pending := append([]media.Stream(nil), e.streams...)
	e.mu.Unlock()
	for _, s := range pending {
		fn(s)
	}
}

func (e *Events) OnClose(fn func(error)) {
	e.mu.Lock()
	e.onClose = fn
	closed, err := e.closed, e.closeErr
	e.mu.Unlock()
	if closed {
		fn(err)
	}
}

// EmitStream reports s. Ignored after close.
func (e *Events) EmitStream(s media.Stream) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	seen := false
	for _, x := range e.streams {
		if x == s {
			seen = true
			break
		}
	}
	if !seen {
		e.streams = append(e.streams, s)
	}
	fn := e.onStream
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitClose reports the end of the call. Only the first call has effect.
func (e *Events) EmitClose(err error) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	e.closeErr = err
	fn := e.onClose
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
	return true
}

func (e *Events) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
