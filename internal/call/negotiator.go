// Package call negotiates a two-party audio/video call over a signaling room.
//
// A Negotiator owns one Engine and the local capture. All of its state lives
// on a single event-loop goroutine: public methods, engine callbacks and
// relay deliveries are posted to that loop and run one at a time, so no
// interleaving of ready/offer/answer/ice-candidate from the two sides can
// observe a half-applied step.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairroom/internal/media"
	"github.com/1ureka/pairroom/internal/signaling"
	"github.com/1ureka/pairroom/internal/util"
)

const (
	eventQueueSize = 256
	publishTimeout = 5 * time.Second
)

// Options carries the negotiator's collaborators.
type Options struct {
	Channel   signaling.Channel
	Media     media.Provider
	NewEngine func() (Engine, error)
	Logger    logr.Logger
}

// Negotiator drives one participant through Uninitialized, Initializing,
// AwaitingPeer, Negotiating, Connected and Ended.
type Negotiator struct {
	room     string
	identity string

	channel   signaling.Channel
	provider  media.Provider
	newEngine func() (Engine, error)
	log       logr.Logger

	events   chan func()
	done     chan struct{}
	notifier *notifier

	ctx    context.Context
	cancel context.CancelFunc

	startMu sync.Mutex // serializes StartLocalStream

	// Mirrors for lock-free introspection; written only by the loop.
	stateVal atomic.Int32
	roleVal  atomic.Int32

	// Loop-owned.
	state         State
	role          Role
	roleLocked    bool
	engine        Engine
	handle        signaling.Handle
	local         *media.LocalStream
	attached      map[string]bool
	remote        *media.RemoteStream
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	seen          map[string]bool
	announcedTo   map[string]bool
	starting      bool
	parked        []signaling.Message

	onRemoteStream func(*media.RemoteStream)
	onStateChange  func(webrtc.PeerConnectionState)
}

// New creates a negotiator for identity in room. It starts in
// StateUninitialized with the responder role.
//
// New starts the negotiator's event loop and callback goroutines right away.
// Cleanup must be called once the negotiator is no longer needed, even if
// Initialize was never called or failed, or those goroutines leak.
func New(room, identity string, opts Options) (*Negotiator, error) {
	if room == "" || identity == "" {
		return nil, errors.New("call: room and identity are required")
	}
	if opts.Channel == nil {
		return nil, errors.New("call: missing signaling channel")
	}
	if opts.NewEngine == nil {
		return nil, errors.New("call: missing engine constructor")
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = util.Log()
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Negotiator{
		room:      room,
		identity:  identity,
		channel:   opts.Channel,
		provider:  opts.Media,
		newEngine: opts.NewEngine,
		log:       log.WithName("call").WithValues("room", room, "id", identity),
		events:    make(chan func(), eventQueueSize),
		done:      make(chan struct{}),
		notifier:  newNotifier(),
		ctx:       ctx,
		cancel:    cancel,
	}
	n.resetSession()
	go n.loop()
	return n, nil
}

// loop runs posted closures until the negotiator ends.
func (n *Negotiator) loop() {
	defer close(n.done)
	for fn := range n.events {
		fn()
		if n.state == StateEnded {
			return
		}
	}
}

// do runs fn on the loop and waits for its result.
func (n *Negotiator) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case n.events <- func() { result <- fn() }:
	case <-n.done:
		return ErrEnded
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-n.done:
		// The loop writes the result before it exits.
		select {
		case err := <-result:
			return err
		default:
			return ErrEnded
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. It is dropped once the negotiator ended.
func (n *Negotiator) post(fn func()) {
	select {
	case n.events <- fn:
	case <-n.done:
	}
}

// State returns the current lifecycle state.
func (n *Negotiator) State() State { return State(n.stateVal.Load()) }

// Role returns the current negotiation role.
func (n *Negotiator) Role() Role { return Role(n.roleVal.Load()) }

// Done is closed once Cleanup has finished and the event loop has exited.
func (n *Negotiator) Done() <-chan struct{} { return n.done }

// Initialize creates the engine, subscribes to the room and announces the
// participant with a ready message. If the subscription fails the engine is
// released and the negotiator is back in StateUninitialized.
func (n *Negotiator) Initialize(ctx context.Context) error {
	return n.do(ctx, func() error { return n.initialize(ctx) })
}

// SetAsInitiator picks the role. It fails with ErrRoleLocked once an offer or
// answer has been exchanged.
func (n *Negotiator) SetAsInitiator(initiator bool) error {
	return n.do(context.Background(), func() error {
		if n.roleLocked {
			return ErrRoleLocked
		}
		role := RoleResponder
		if initiator {
			role = RoleInitiator
		}
		n.role = role
		n.roleVal.Store(int32(role))
		return nil
	})
}

// StartLocalStream acquires audio and video capture and attaches every track
// to the engine. It may be called before Initialize, in which case the tracks
// are attached when the engine is created and are part of the first offer or
// answer. A second call returns the stream already held. Acquisition errors
// are returned as is and may be retried by calling again.
//
// Ready and offer messages that arrive while capture is being acquired are
// held back until the tracks are attached.
func (n *Negotiator) StartLocalStream(ctx context.Context) (*media.LocalStream, error) {
	n.startMu.Lock()
	defer n.startMu.Unlock()

	var existing *media.LocalStream
	err := n.do(ctx, func() error {
		existing = n.local
		if existing == nil {
			n.starting = true
		}
		return nil
	})
	if err != nil {
		n.post(n.finishStart)
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	stream, err := n.acquire(ctx)
	if err != nil {
		n.post(n.finishStart)
		return nil, err
	}

	err = n.do(ctx, func() error {
		defer n.finishStart()
		n.local = stream
		if n.engine == nil {
			return nil
		}
		if err := n.attachLocalTracks(); err != nil {
			n.local = nil
			return err
		}
		return nil
	})
	if err != nil {
		stream.Stop()
		n.post(func() {
			if n.local == stream {
				n.local = nil
			}
			n.finishStart()
		})
		return nil, err
	}
	return stream, nil
}

func (n *Negotiator) acquire(ctx context.Context) (*media.LocalStream, error) {
	if n.provider == nil {
		return nil, fmt.Errorf("failed to start local stream: %w", media.ErrNoDevice)
	}
	stream, err := n.provider.Acquire(ctx, media.Constraints{Audio: true, Video: true})
	if err != nil {
		return nil, fmt.Errorf("failed to start local stream: %w", err)
	}
	return stream, nil
}

// finishStart closes the capture window and handles the messages held back
// during it.
func (n *Negotiator) finishStart() {
	if !n.starting {
		return
	}
	n.starting = false
	parked := n.parked
	n.parked = nil
	for _, msg := range parked {
		n.dispatch(msg)
	}
}

// CreateOffer sends an offer right away instead of waiting for the peer's
// ready. Only the initiator may call it.
func (n *Negotiator) CreateOffer(ctx context.Context) error {
	return n.do(ctx, func() error {
		if n.engine == nil {
			return ErrNotInitialized
		}
		if n.role != RoleInitiator {
			return ErrNotInitiator
		}
		return n.createOffer()
	})
}

// OnRemoteStream sets the remote stream callback, replacing any previous one.
func (n *Negotiator) OnRemoteStream(fn func(*media.RemoteStream)) {
	_ = n.do(context.Background(), func() error {
		n.onRemoteStream = fn
		return nil
	})
}

// OnConnectionStateChange sets the callback that receives the engine's
// connection state verbatim, replacing any previous one.
func (n *Negotiator) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	_ = n.do(context.Background(), func() error {
		n.onStateChange = fn
		return nil
	})
}

// ToggleAudio enables or disables the local audio tracks. Nothing is sent to
// the peer.
func (n *Negotiator) ToggleAudio(enabled bool) { n.toggle(webrtc.RTPCodecTypeAudio, enabled) }

// ToggleVideo enables or disables the local video tracks. Nothing is sent to
// the peer.
func (n *Negotiator) ToggleVideo(enabled bool) { n.toggle(webrtc.RTPCodecTypeVideo, enabled) }

func (n *Negotiator) toggle(kind webrtc.RTPCodecType, enabled bool) {
	_ = n.do(context.Background(), func() error {
		if n.local == nil {
			return nil
		}
		count := n.local.SetEnabled(kind, enabled)
		n.log.V(1).Info("toggled local tracks", "kind", kind.String(), "enabled", enabled, "tracks", count)
		return nil
	})
}

// Cleanup ends the call from any state: it tells the peer, stops local
// tracks, closes the engine and leaves the room. Calling it again is a no-op.
func (n *Negotiator) Cleanup(ctx context.Context) error {
	err := n.do(ctx, n.cleanup)
	if errors.Is(err, ErrEnded) {
		return nil
	}
	return err
}

// transition moves to the next state if the edge is allowed.
func (n *Negotiator) transition(to State) bool {
	from := n.state
	if from == to {
		return true
	}
	if !canTransition(from, to) {
		n.log.V(1).Info("ignoring state change", "from", from.String(), "to", to.String())
		return false
	}
	n.state = to
	n.stateVal.Store(int32(to))
	n.log.V(1).Info("state changed", "from", from.String(), "to", to.String())
	return true
}

// resetSession clears everything tied to one engine.
func (n *Negotiator) resetSession() {
	n.engine = nil
	n.handle = nil
	n.attached = make(map[string]bool)
	n.remote = nil
	n.remoteDescSet = false
	n.pending = nil
	n.seen = make(map[string]bool)
	n.announcedTo = make(map[string]bool)
	n.parked = nil
}

func (n *Negotiator) initialize(ctx context.Context) error {
	switch n.state {
	case StateUninitialized:
	case StateEnded:
		return ErrEnded
	default:
		return ErrAlreadyInitialized
	}
	n.transition(StateInitializing)

	eng, err := n.newEngine()
	if err != nil {
		n.transition(StateUninitialized)
		return fmt.Errorf("failed to create engine: %w", err)
	}

	eng.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		n.post(func() {
			if n.engine == eng {
				n.sendCandidate(c)
			}
		})
	})
	eng.OnRemoteTrack(func(track media.RemoteTrack) {
		n.post(func() {
			if n.engine == eng {
				n.handleRemoteTrack(track)
			}
		})
	})
	eng.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.post(func() {
			if n.engine == eng {
				n.handleConnectionState(state)
			}
		})
	})
	n.engine = eng
	if err := n.attachLocalTracks(); err != nil {
		n.log.Error(err, "announcing without every local track")
	}

	handle, err := n.channel.Subscribe(ctx, n.room, n.receive)
	if err != nil {
		if closeErr := eng.Close(); closeErr != nil {
			n.log.Error(closeErr, "failed to close engine after subscribe failure")
		}
		n.resetSession()
		n.transition(StateUninitialized)
		return fmt.Errorf("failed to subscribe to room %s: %w", n.room, err)
	}
	n.handle = handle

	n.transition(StateAwaitingPeer)
	n.publish(signaling.NewReady(n.room, n.identity))
	n.log.Info("waiting for peer", "role", n.role.String())
	return nil
}

// receive is the signaling handler. It runs on the channel's delivery
// goroutine and only hands the message to the loop.
func (n *Negotiator) receive(msg signaling.Message) {
	n.post(func() { n.handleMessage(msg) })
}

func (n *Negotiator) cleanup() error {
	if n.state == StateEnded {
		return nil
	}

	var errs []error
	if n.handle != nil {
		n.publish(signaling.NewLeave(n.room, n.identity))
	}
	if n.local != nil {
		n.local.Stop()
		n.local = nil
	}
	if n.engine != nil {
		if err := n.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close engine: %w", err))
		}
	}
	if n.handle != nil {
		if err := n.channel.Unsubscribe(n.handle); err != nil {
			errs = append(errs, fmt.Errorf("failed to leave room: %w", err))
		}
	}

	n.resetSession()
	n.onRemoteStream = nil
	n.onStateChange = nil
	n.transition(StateEnded)
	n.notifier.close()
	n.cancel()

	n.log.Info("call ended")
	return errors.Join(errs...)
}
