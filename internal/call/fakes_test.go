package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/pairroom/internal/media"
	"github.com/1ureka/pairroom/internal/signaling"
)

const (
	testRoom = "R7K2"
	self     = "alice"
	peer     = "bob"
)

// fakeEngine models just enough of the offer/answer state machine to reject
// descriptions the way a real engine would.
type fakeEngine struct {
	mu sync.Mutex

	offers         int
	answers        int
	locals         []webrtc.SessionDescription
	remotes        []webrtc.SessionDescription
	candidates     []string
	tracks         []webrtc.TrackLocal
	closed         int
	haveLocalOffer bool
	describedWith  int // tracks attached when the last offer or answer was created

	rejectCandidate string

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(media.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

func (e *fakeEngine) CreateOffer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offers++
	e.describedWith = len(e.tracks)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (e *fakeEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.remotes) == 0 {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	e.answers++
	e.describedWith = len(e.tracks)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (e *fakeEngine) SetLocalDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if desc.Type == webrtc.SDPTypeOffer {
		e.haveLocalOffer = true
	}
	e.locals = append(e.locals, desc)
	return nil
}

func (e *fakeEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && e.haveLocalOffer:
		return errors.New("remote offer while holding a local offer")
	case desc.Type == webrtc.SDPTypeAnswer && !e.haveLocalOffer:
		return errors.New("remote answer without a local offer")
	}
	e.haveLocalOffer = false
	e.remotes = append(e.remotes, desc)
	return nil
}

func (e *fakeEngine) AddICECandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.remotes) == 0 {
		return errors.New("remote description not set")
	}
	if c.Candidate == e.rejectCandidate {
		return errors.New("unparseable candidate")
	}
	e.candidates = append(e.candidates, c.Candidate)
	return nil
}

func (e *fakeEngine) AddTrack(track webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks = append(e.tracks, track)
	return nil
}

func (e *fakeEngine) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = fn
}

func (e *fakeEngine) OnRemoteTrack(fn func(media.RemoteTrack)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrack = fn
}

func (e *fakeEngine) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = fn
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *fakeEngine) emitCandidate(candidate string) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: candidate})
}

func (e *fakeEngine) emitTrack(track media.RemoteTrack) {
	e.mu.Lock()
	fn := e.onTrack
	e.mu.Unlock()
	fn(track)
}

func (e *fakeEngine) emitState(state webrtc.PeerConnectionState) {
	e.mu.Lock()
	fn := e.onState
	e.mu.Unlock()
	fn(state)
}

func (e *fakeEngine) counts() (offers, answers, remotes, tracks, closed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offers, e.answers, len(e.remotes), len(e.tracks), e.closed
}

func (e *fakeEngine) tracksInLastDescription() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.describedWith
}

func (e *fakeEngine) appliedCandidates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.candidates...)
}

// fakeProvider hands out synthetic streams. It can be told to fail, or to
// block until its gate is closed.
type fakeProvider struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	acquired int
}

func (p *fakeProvider) Acquire(ctx context.Context, c media.Constraints) (*media.LocalStream, error) {
	p.mu.Lock()
	err, gate := p.err, p.gate
	p.acquired++
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return media.NewSyntheticProvider().Acquire(ctx, c)
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// hold makes the next acquisitions block until the returned func is called.
func (p *fakeProvider) hold() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()
	return func() { close(gate) }
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (f fakeRemoteTrack) ID() string                { return f.id }
func (f fakeRemoteTrack) StreamID() string          { return f.stream }
func (f fakeRemoteTrack) Kind() webrtc.RTPCodecType { return f.kind }

// failingChannel refuses every subscription.
type failingChannel struct{}

func (failingChannel) Subscribe(context.Context, string, signaling.Handler) (signaling.Handle, error) {
	return nil, errors.New("relay unreachable")
}
func (failingChannel) Publish(context.Context, signaling.Handle, signaling.Message) error {
	return signaling.ErrClosed
}
func (failingChannel) Unsubscribe(signaling.Handle) error { return nil }

// harness wires one negotiator to an in-process hub. A spy subscription plays
// the remote peer: it injects messages as "bob" and records what the
// negotiator publishes.
type harness struct {
	t        *testing.T
	hub      *signaling.Hub
	spy      signaling.Handle
	spyCh    chan signaling.Message
	engine   *fakeEngine
	provider *fakeProvider
	neg      *Negotiator
}

func newHarness(t *testing.T, initiator bool) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		hub:      signaling.NewHub(signaling.HubConfig{}),
		spyCh:    make(chan signaling.Message, 256),
		engine:   &fakeEngine{},
		provider: &fakeProvider{},
	}
	t.Cleanup(func() { _ = h.hub.Close() })

	spy, err := h.hub.Connect(peer).Subscribe(context.Background(), testRoom, func(msg signaling.Message) {
		if msg.From != peer {
			h.spyCh <- msg
		}
	})
	require.NoError(t, err)
	h.spy = spy

	neg, err := New(testRoom, self, Options{
		Channel:   h.hub.Connect(self),
		Media:     h.provider,
		NewEngine: func() (Engine, error) { return h.engine, nil },
		Logger:    logr.Discard(),
	})
	require.NoError(t, err)
	h.neg = neg
	t.Cleanup(func() { _ = neg.Cleanup(context.Background()) })

	require.NoError(t, neg.SetAsInitiator(initiator))
	return h
}

func (h *harness) initialize() {
	h.t.Helper()
	require.NoError(h.t, h.neg.Initialize(context.Background()))
	got := h.next()
	require.Equal(h.t, signaling.KindReady, got.Kind)
}

func (h *harness) inject(msg signaling.Message) {
	h.t.Helper()
	require.NoError(h.t, h.hub.Publish(context.Background(), h.spy, msg))
}

func (h *harness) injectOffer() {
	h.t.Helper()
	msg, err := signaling.NewOffer(testRoom, peer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "peer-offer"})
	require.NoError(h.t, err)
	h.inject(msg)
}

func (h *harness) injectAnswer() {
	h.t.Helper()
	msg, err := signaling.NewAnswer(testRoom, peer, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "peer-answer"})
	require.NoError(h.t, err)
	h.inject(msg)
}

func (h *harness) injectCandidate(candidate string) {
	h.t.Helper()
	msg, err := signaling.NewCandidate(testRoom, peer, webrtc.ICECandidateInit{Candidate: candidate})
	require.NoError(h.t, err)
	h.inject(msg)
}

// next returns the next message the negotiator published.
func (h *harness) next() signaling.Message {
	h.t.Helper()
	select {
	case msg := <-h.spyCh:
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for the negotiator to publish")
		return signaling.Message{}
	}
}

// quiet asserts that the negotiator publishes nothing for a while.
func (h *harness) quiet() {
	h.t.Helper()
	select {
	case msg := <-h.spyCh:
		h.t.Fatalf("unexpected %s from %s", msg.Kind, msg.From)
	case <-time.After(100 * time.Millisecond):
	}
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.neg.State() == want },
		2*time.Second, 5*time.Millisecond, "state is %s, want %s", h.neg.State(), want)
}
