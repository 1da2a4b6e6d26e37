package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/pairroom/internal/call"
	"github.com/1ureka/pairroom/internal/config"
	"github.com/1ureka/pairroom/internal/media"
	"github.com/1ureka/pairroom/internal/presence"
	"github.com/1ureka/pairroom/internal/signaling"
	"github.com/1ureka/pairroom/internal/transport"
	"github.com/1ureka/pairroom/internal/util"
)

const (
	statsInterval  = 10 * time.Second
	cleanupTimeout = 5 * time.Second
)

// ErrNoPeer is returned by RunJoin when nobody connected within the
// configured wait timeout.
var ErrNoPeer = errors.New("no peer connected in time")

// RunJoin orchestrates one participant's call:
//  1. Build the pion API and the relay client
//  2. Create the negotiator and hook its callbacks
//  3. Start the local stream and join the room
//  4. Watch presence and report stats
//  5. Wait for the call to connect, fail or be interrupted
//
// The negotiator is always cleaned up before returning, which tells the peer
// we left.
func RunJoin(ctx context.Context, cfg *config.Config) error {
	relayURL, err := config.NormalizeRelayURL(cfg.RelayURL)
	if err != nil {
		return err
	}
	identity := cfg.Identity
	if identity == "" {
		identity = util.NewIdentity()
	}
	log := util.Log().WithName("join")

	// ── 1. Transport & signaling ───────────────────────────────────────
	api, err := transport.NewAPI(transport.Options{})
	if err != nil {
		return err
	}
	client := signaling.NewClient(signaling.ClientConfig{URL: relayURL, Identity: identity})

	// ── 2. Negotiator ──────────────────────────────────────────────────
	neg, err := call.New(cfg.Room, identity, call.Options{
		Channel: client,
		Media:   media.NewSyntheticProvider(),
		NewEngine: func() (call.Engine, error) {
			t, err := transport.New(api, cfg.ICEServers)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := neg.Cleanup(cleanupCtx); err != nil {
			util.LogWarning("cleanup finished with errors: %v", err)
		}
	}()

	connected := make(chan struct{})
	var connectedOnce sync.Once
	terminal := make(chan webrtc.PeerConnectionState, 1)

	neg.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			connectedOnce.Do(func() { close(connected) })
			util.LogSuccess("call connected")
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			select {
			case terminal <- state:
			default:
			}
		default:
			util.LogDebug("connection state: %s", state)
		}
	})

	draining := make(map[string]bool)
	neg.OnRemoteStream(func(stream *media.RemoteStream) {
		for _, track := range stream.Tracks() {
			remote, ok := track.(*webrtc.TrackRemote)
			if !ok || draining[remote.ID()] {
				continue
			}
			draining[remote.ID()] = true
			util.LogInfo("receiving %s from the peer (stream %s)", remote.Kind(), stream.ID())
			go drainTrack(remote)
		}
	})

	// ── 3. Join ────────────────────────────────────────────────────────
	if err := neg.SetAsInitiator(cfg.Role == config.RoleInitiator); err != nil {
		return err
	}
	// Capture first so the tracks are in whatever offer or answer comes next.
	if _, err := neg.StartLocalStream(ctx); err != nil {
		return err
	}
	if err := neg.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to join room %s: %w", cfg.Room, err)
	}

	pterm.DefaultBox.WithTitle("Room").Println(fmt.Sprintf(
		"Code  : %s\nID    : %s\nRole  : %s\nRelay : %s",
		cfg.Room, identity, cfg.Role, relayURL,
	))

	// ── 4. Presence & stats ────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	interval := cfg.PresenceInterval
	if interval <= 0 {
		interval = config.DefaultPresenceInterval
	}
	if tracker, err := presence.NewClient(relayURL, nil); err == nil {
		go presence.Watch(runCtx, tracker, cfg.Room, interval, log, func(count int) {
			util.LogInfo("%d participant(s) in room %s", count, cfg.Room)
		})
	} else {
		util.LogWarning("presence unavailable: %v", err)
	}
	util.StartStatsReporter(runCtx, statsInterval)

	// ── 5. Wait ────────────────────────────────────────────────────────
	connectedC := (<-chan struct{})(connected)
	var waitC <-chan time.Time
	if cfg.WaitTimeout > 0 {
		timer := time.NewTimer(cfg.WaitTimeout)
		defer timer.Stop()
		waitC = timer.C
	}

	for {
		select {
		case <-connectedC:
			connectedC, waitC = nil, nil

		case <-waitC:
			return fmt.Errorf("%w within %s", ErrNoPeer, cfg.WaitTimeout)

		case state := <-terminal:
			// No renegotiation: a lost media path ends the call.
			if state == webrtc.PeerConnectionStateFailed {
				return errors.New("call failed: the media path could not be established")
			}
			util.LogInfo("call %s", state)
			return nil

		case <-ctx.Done():
			util.LogInfo("hanging up")
			return nil
		}
	}
}

// drainTrack reads the peer's RTP until the track ends. Nothing is played
// back; packets are counted for debug output only.
func drainTrack(track *webrtc.TrackRemote) {
	var packets int
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			util.LogDebug("%s track ended after %d packets", track.Kind(), packets)
			return
		}
		packets++
	}
}
