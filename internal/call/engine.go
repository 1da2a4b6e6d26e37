package call

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairroom/internal/media"
)

var (
	ErrNotInitialized     = errors.New("call: not initialized")
	ErrAlreadyInitialized = errors.New("call: already initialized")
	ErrEnded              = errors.New("call: ended")
	ErrRoleLocked         = errors.New("call: role is locked once negotiation started")
	ErrNotInitiator       = errors.New("call: only the initiator creates offers")
)

// Engine is the media-transport negotiation engine the negotiator drives.
// transport.Transport implements it over pion.
//
// Callbacks may fire on any goroutine.
type Engine interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error

	OnLocalCandidate(func(webrtc.ICECandidateInit))
	OnRemoteTrack(func(media.RemoteTrack))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}
