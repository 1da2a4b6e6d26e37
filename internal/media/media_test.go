package media

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticAcquire(t *testing.T) {
	stream, err := NewSyntheticProvider().Acquire(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer stream.Stop()

	require.Len(t, stream.Tracks(), 2)
	require.Len(t, stream.AudioTracks(), 1)
	require.Len(t, stream.VideoTracks(), 1)

	audio := stream.AudioTracks()[0]
	assert.Equal(t, "audio", audio.ID())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, audio.Kind())
	assert.Equal(t, stream.ID(), audio.Local().StreamID())
	assert.True(t, audio.Enabled())
}

func TestSyntheticAcquireAudioOnly(t *testing.T) {
	stream, err := NewSyntheticProvider().Acquire(context.Background(), Constraints{Audio: true})
	require.NoError(t, err)
	defer stream.Stop()

	assert.Len(t, stream.AudioTracks(), 1)
	assert.Empty(t, stream.VideoTracks())
}

func TestSyntheticAcquireNothing(t *testing.T) {
	_, err := NewSyntheticProvider().Acquire(context.Background(), Constraints{})
	assert.True(t, errors.Is(err, ErrNoDevice))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSyntheticProvider().Acquire(ctx, Constraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetEnabledTouchesOneKind(t *testing.T) {
	stream, err := NewSyntheticProvider().Acquire(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer stream.Stop()

	assert.Equal(t, 1, stream.SetEnabled(webrtc.RTPCodecTypeAudio, false))
	assert.False(t, stream.AudioTracks()[0].Enabled())
	assert.True(t, stream.VideoTracks()[0].Enabled())
}

func TestTrackStopIsIdempotent(t *testing.T) {
	var released atomic.Int32
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "a", "s")
	require.NoError(t, err)

	track := NewTrack(local, webrtc.RTPCodecTypeAudio, func() { released.Add(1) })
	stream := NewLocalStream("s", track)

	stream.Stop()
	stream.Stop()
	assert.True(t, track.Stopped())
	assert.False(t, track.Enabled())
	assert.Equal(t, int32(1), released.Load())
}

type countingWriter struct{ n atomic.Int64 }

func (w *countingWriter) WriteSample(pionmedia.Sample) error {
	w.n.Add(1)
	return nil
}

func TestPumpSkipsDisabledTrack(t *testing.T) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "a", "s")
	require.NoError(t, err)
	track := NewTrack(local, webrtc.RTPCodecTypeAudio, nil)
	track.SetEnabled(false)

	w := &countingWriter{}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		pump(w, track, time.Millisecond, opusSilence, stop)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, w.n.Load(), "disabled track must not emit samples")

	track.SetEnabled(true)
	require.Eventually(t, func() bool { return w.n.Load() > 0 }, time.Second, time.Millisecond)

	close(stop)
	<-done
}

type fakeRemoteTrack struct{ id, stream string }

func (f fakeRemoteTrack) ID() string                { return f.id }
func (f fakeRemoteTrack) StreamID() string          { return f.stream }
func (f fakeRemoteTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }

func TestRemoteStreamDedupesTracks(t *testing.T) {
	stream := NewRemoteStream("peer")
	assert.True(t, stream.AddTrack(fakeRemoteTrack{"a", "peer"}))
	assert.False(t, stream.AddTrack(fakeRemoteTrack{"a", "peer"}))
	assert.True(t, stream.AddTrack(fakeRemoteTrack{"v", "peer"}))
	assert.Len(t, stream.Tracks(), 2)
}
