// Package media holds the capture side of a call: the provider contract,
// local and remote stream handles and a synthetic capture provider.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrNoDevice         = errors.New("media: no capture device")
)

// Constraints selects which kinds of capture to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// Provider acquires capture devices.
type Provider interface {
	Acquire(ctx context.Context, c Constraints) (*LocalStream, error)
}

// Track is one captured local track. Disabling a track keeps it attached but
// stops its samples.
type Track struct {
	local webrtc.TrackLocal
	kind  webrtc.RTPCodecType

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	onStop   func()
}

// NewTrack wraps local. onStop, if set, runs once when the track is stopped
// and should release the capture device.
func NewTrack(local webrtc.TrackLocal, kind webrtc.RTPCodecType, onStop func()) *Track {
	t := &Track{local: local, kind: kind, onStop: onStop}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Local() webrtc.TrackLocal  { return t.local }
func (t *Track) Enabled() bool             { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *Track) Stopped() bool             { return t.stopped.Load() }

// Stop releases the track. It is idempotent.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		t.enabled.Store(false)
		if t.onStop != nil {
			t.onStop()
		}
	})
}

// LocalStream groups the tracks returned by one Acquire.
type LocalStream struct {
	id     string
	tracks []*Track
}

func NewLocalStream(id string, tracks ...*Track) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string { return s.id }

// Tracks returns a copy of the track list.
func (s *LocalStream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

func (s *LocalStream) AudioTracks() []*Track { return s.tracksOf(webrtc.RTPCodecTypeAudio) }
func (s *LocalStream) VideoTracks() []*Track { return s.tracksOf(webrtc.RTPCodecTypeVideo) }

func (s *LocalStream) tracksOf(kind webrtc.RTPCodecType) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// SetEnabled flips every track of the given kind and returns how many were
// touched.
func (s *LocalStream) SetEnabled(kind webrtc.RTPCodecType, enabled bool) int {
	tracks := s.tracksOf(kind)
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
	return len(tracks)
}

// Stop stops every track.
func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// RemoteTrack is the receive side of a track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// RemoteStream accumulates the tracks the peer sends under one stream ID.
type RemoteStream struct {
	id string

	mu     sync.RWMutex
	tracks []RemoteTrack
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string { return s.id }

// AddTrack appends t unless a track with the same ID is already present.
func (s *RemoteStream) AddTrack(t RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tracks {
		if existing.ID() == t.ID() {
			return false
		}
	}
	s.tracks = append(s.tracks, t)
	return true
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RemoteTrack(nil), s.tracks...)
}
