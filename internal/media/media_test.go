package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticAcquire(t *testing.T) {
	s, err := Synthetic{Audio: true}.Acquire(context.Background())
	require.NoError(t, err)

	local, ok := s.(*LocalStream)
	require.True(t, ok)
	tracks := local.LocalTracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
	assert.Equal(t, s.ID(), tracks[0].StreamID())

	s.Stop()
	s.Stop()
	assert.True(t, local.Stopped())
}

func TestSyntheticWithoutSourceIsUnavailable(t *testing.T) {
	_, err := Synthetic{}.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrMediaUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Synthetic{Audio: true}.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquirerFunc(t *testing.T) {
	var a Acquirer = AcquirerFunc(func(context.Context) (Stream, error) { return nil, ErrMediaDenied })
	_, err := a.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrMediaDenied)
}

func feed(pkts ...*rtp.Packet) func() (*rtp.Packet, error) {
	i := 0
	return func() (*rtp.Packet, error) {
		if i >= len(pkts) {
			return nil, errors.New("eof")
		}
		p := pkts[i]
		i++
		return p, nil
	}
}

func TestRemoteStreamAccounting(t *testing.T) {
	s := NewRemoteStream("peer-a")
	assert.Equal(t, "peer-a", s.ID())

	added := s.Consume("t1", "audio", feed(
		&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}, Payload: []byte{1, 2, 3}},
		&rtp.Packet{Header: rtp.Header{SequenceNumber: 2}, Payload: []byte{4, 5}},
	))
	require.True(t, added)
	assert.False(t, s.Consume("t1", "audio", feed()), "same track twice")

	require.Eventually(t, func() bool { return s.Stats().Packets == 2 }, time.Second, 5*time.Millisecond)
	st := s.Stats()
	assert.Equal(t, uint64(5), st.Bytes)
	assert.Equal(t, uint16(2), st.LastSequence)
	assert.Equal(t, []string{"audio:t1"}, st.Tracks)
}

func TestRemoteStreamStopRejectsTracks(t *testing.T) {
	s := NewRemoteStream("peer-b")
	s.Stop()
	assert.False(t, s.Consume("t1", "video", feed()))
	assert.Empty(t, s.Stats().Tracks)
}
