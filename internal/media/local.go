package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// OpusSilence is one 20ms Opus frame of silence.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

const opusFrame = 20 * time.Millisecond

// LocalStream is a set of sample tracks fed by background writers.
type LocalStream struct {
	id     string
	tracks []*webrtc.TrackLocalStaticSample

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewLocalStream(id string, tracks ...*webrtc.TrackLocalStaticSample) *LocalStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalStream{id: id, tracks: tracks, ctx: ctx, cancel: cancel}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) LocalTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// Stop halts every writer and waits for them to return.
func (s *LocalStream) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.wg.Wait()
	log.Debug().Str("module", "media").Str("stream", s.id).Msg("local stream stopped")
}

func (s *LocalStream) Stopped() bool { return s.stopped.Load() }

// Feed writes frame to track every interval until the stream stops.
func (s *LocalStream) Feed(track *webrtc.TrackLocalStaticSample, frame []byte, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: interval}); err != nil {
					log.Debug().Err(err).Str("module", "media").Str("track", track.ID()).Msg("write sample")
				}
			}
		}
	}()
}

// Synthetic produces a local stream without capture hardware: an Opus track
// carrying silence. It backs headless participants.
type Synthetic struct {
	Audio bool
}

func (a Synthetic) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !a.Audio {
		return nil, ErrMediaUnavailable
	}
	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+id[:8],
		id,
	)
	if err != nil {
		return nil, ErrMediaUnavailable
	}
	s := NewLocalStream(id, track)
	s.Feed(track, OpusSilence, opusFrame)
	log.Info().Str("module", "media").Str("stream", id).Msg("synthetic audio acquired")
	return s, nil
}
