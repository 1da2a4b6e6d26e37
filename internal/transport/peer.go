package transport

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	pnet "github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

// Options configures the pion API shared by every Transport of a process.
type Options struct {
	// LoggerFactory receives pion's internal logs. Defaults to NewLoggerFactory.
	LoggerFactory logging.LoggerFactory
	// Net replaces the OS network stack, e.g. with a vnet for tests.
	Net pnet.Net
	// IncludeLoopback gathers 127.0.0.1 candidates, useful when both peers
	// share a host.
	IncludeLoopback bool
}

// NewAPI builds a webrtc.API with the default codecs and interceptors.
func NewAPI(opts Options) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = opts.LoggerFactory
	if se.LoggerFactory == nil {
		se.LoggerFactory = NewLoggerFactory()
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// newPeerConnection creates a PeerConnection using the given STUN/TURN URLs.
// An empty list means host candidates only.
func newPeerConnection(api *webrtc.API, iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return api.NewPeerConnection(config)
}
