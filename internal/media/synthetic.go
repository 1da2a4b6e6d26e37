package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	defaultAudioInterval = 20 * time.Millisecond
	defaultVideoInterval = 33 * time.Millisecond
)

var (
	// opusSilence is a single Opus frame of digital silence.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// placeholderFrame stands in for encoded VP8. Receivers only count it.
	placeholderFrame = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

// SyntheticProvider captures nothing. It hands out an Opus and a VP8 sample
// track that emit placeholder frames at a fixed cadence while enabled, for
// headless participants and tests.
type SyntheticProvider struct {
	AudioInterval time.Duration
	VideoInterval time.Duration
}

func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{
		AudioInterval: defaultAudioInterval,
		VideoInterval: defaultVideoInterval,
	}
}

// Acquire implements Provider.
func (p *SyntheticProvider) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: no track kind requested", ErrNoDevice)
	}

	streamID := "pairroom-" + uuid.NewString()
	var tracks []*Track

	if c.Audio {
		track, err := newSyntheticTrack(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, webrtc.RTPCodecTypeAudio, "audio", streamID, p.AudioInterval, opusSilence)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if c.Video {
		track, err := newSyntheticTrack(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, webrtc.RTPCodecTypeVideo, "video", streamID, p.VideoInterval, placeholderFrame)
		if err != nil {
			NewLocalStream(streamID, tracks...).Stop()
			return nil, err
		}
		tracks = append(tracks, track)
	}

	return NewLocalStream(streamID, tracks...), nil
}

func newSyntheticTrack(capability webrtc.RTPCodecCapability, kind webrtc.RTPCodecType, id, streamID string, interval time.Duration, frame []byte) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}

	stop := make(chan struct{})
	track := NewTrack(local, kind, func() { close(stop) })
	go pump(local, track, interval, frame, stop)
	return track, nil
}

type sampleWriter interface {
	WriteSample(pionmedia.Sample) error
}

// pump writes one frame per interval while the track is enabled. Writes
// before the track is bound to a connection are no-ops in pion.
func pump(w sampleWriter, track *Track, interval time.Duration, frame []byte, stop <-chan struct{}) {
	if interval <= 0 {
		interval = defaultAudioInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !track.Enabled() {
				continue
			}
			if err := w.WriteSample(pionmedia.Sample{Data: frame, Duration: interval}); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
