// Package transport adapts a pion PeerConnection to the negotiation engine the
// call negotiator drives: descriptions, trickled candidates, media tracks and
// connection state.
package transport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairroom/internal/media"
	"github.com/1ureka/pairroom/internal/util"
)

// Transport wraps a single PeerConnection.
//
// The PeerConnection state is recorded for ConnectionState and forwarded to
// the registered callback; the Transport itself never acts on it.
type Transport struct {
	pc *webrtc.PeerConnection

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	stateFn func(webrtc.PeerConnectionState)

	closeOnce sync.Once
	closeErr  error
}

// New creates a Transport on api. iceServers lists STUN/TURN URLs.
func New(api *webrtc.API, iceServers []string) (*Transport, error) {
	pc, err := newPeerConnection(api, iceServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	t := &Transport{
		pc:      pc,
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		fn := t.stateFn
		t.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the PeerConnection. Later calls return the first result.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// OnConnectionStateChange registers the single state callback. It replaces
// any previous one.
func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.stateFn = fn
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnLocalCandidate registers a callback for every gathered local candidate.
// The end-of-gathering marker is not forwarded.
func (t *Transport) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track. Inbound RTCP for it is read and discarded
// so interceptors keep running.
func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// OnRemoteTrack registers a callback for every track the peer sends.
func (t *Transport) OnRemoteTrack(fn func(media.RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}
