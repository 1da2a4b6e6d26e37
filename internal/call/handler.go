package call

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairroom/internal/media"
	"github.com/1ureka/pairroom/internal/signaling"
	"github.com/1ureka/pairroom/internal/util"
)

// Everything in this file runs on the event loop.

func (n *Negotiator) handleMessage(msg signaling.Message) {
	if n.engine == nil {
		return
	}
	// The relay echoes our own broadcasts back.
	if msg.From == n.identity {
		return
	}
	util.Stats.AddRecv()

	if err := msg.Validate(); err != nil {
		util.Stats.AddIgnored()
		n.log.V(1).Info("ignoring malformed message", "from", msg.From, "kind", string(msg.Kind), "err", err.Error())
		return
	}
	if msg.Room != n.room {
		util.Stats.AddIgnored()
		n.log.V(1).Info("ignoring message for another room", "from", msg.From, "msgRoom", msg.Room)
		return
	}
	n.dispatch(msg)
}

// dispatch routes a validated message. Ready and offer wait for a capture in
// progress so that the first offer or answer carries the local tracks.
func (n *Negotiator) dispatch(msg signaling.Message) {
	if n.engine == nil {
		return
	}
	if n.starting && (msg.Kind == signaling.KindReady || msg.Kind == signaling.KindOffer) {
		n.log.V(1).Info("holding message until local tracks are attached", "from", msg.From, "kind", string(msg.Kind))
		n.parked = append(n.parked, msg)
		return
	}

	switch msg.Kind {
	case signaling.KindReady:
		n.handleReady(msg)
	case signaling.KindOffer:
		n.handleOffer(msg)
	case signaling.KindAnswer:
		n.handleAnswer(msg)
	case signaling.KindCandidate:
		n.handleCandidate(msg)
	case signaling.KindLeave:
		n.handleLeave(msg)
	}
}

// handleReady offers to a newly present peer when this side is the initiator.
// A responder re-announces itself once per peer so that an initiator that
// joined later still learns it is there.
func (n *Negotiator) handleReady(msg signaling.Message) {
	if n.role != RoleInitiator {
		if n.state == StateAwaitingPeer && !n.announcedTo[msg.From] {
			n.announcedTo[msg.From] = true
			n.log.V(1).Info("peer is ready, announcing back", "peer", msg.From)
			n.publish(signaling.NewReady(n.room, n.identity))
		}
		return
	}

	if n.state != StateAwaitingPeer {
		util.Stats.AddIgnored()
		n.log.V(1).Info("ignoring ready outside awaiting-peer", "peer", msg.From, "state", n.state.String())
		return
	}

	n.log.Info("peer is ready, sending offer", "peer", msg.From)
	if err := n.createOffer(); err != nil {
		n.log.Error(err, "failed to offer", "peer", msg.From)
	}
}

func (n *Negotiator) createOffer() error {
	n.roleLocked = true
	if err := n.attachLocalTracks(); err != nil {
		n.log.Error(err, "offering without every local track")
	}

	offer, err := n.engine.CreateOffer()
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := n.engine.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local offer: %w", err)
	}

	msg, err := signaling.NewOffer(n.room, n.identity, offer)
	if err != nil {
		return err
	}
	if n.state == StateAwaitingPeer {
		n.transition(StateNegotiating)
	}
	n.publish(msg)
	return nil
}

// handleOffer answers the peer. A failure leaves the negotiation stalled in
// its current state; the peer's transport state eventually reports it.
func (n *Negotiator) handleOffer(msg signaling.Message) {
	offer, err := msg.Description()
	if err != nil {
		n.log.Error(err, "unreadable offer", "peer", msg.From)
		return
	}
	n.roleLocked = true

	if err := n.engine.SetRemoteDescription(offer); err != nil {
		n.log.Error(err, "failed to apply remote offer", "peer", msg.From, "state", n.state.String())
		return
	}
	n.remoteDescSet = true
	n.flushCandidates()

	if err := n.attachLocalTracks(); err != nil {
		n.log.Error(err, "answering without every local track")
	}

	answer, err := n.engine.CreateAnswer()
	if err != nil {
		n.log.Error(err, "failed to create answer", "peer", msg.From)
		return
	}
	if err := n.engine.SetLocalDescription(answer); err != nil {
		n.log.Error(err, "failed to set local answer", "peer", msg.From)
		return
	}

	reply, err := signaling.NewAnswer(n.room, n.identity, answer)
	if err != nil {
		n.log.Error(err, "failed to encode answer")
		return
	}
	if n.state == StateAwaitingPeer {
		n.transition(StateNegotiating)
	}
	n.log.Info("answering offer", "peer", msg.From)
	n.publish(reply)
}

func (n *Negotiator) handleAnswer(msg signaling.Message) {
	answer, err := msg.Description()
	if err != nil {
		n.log.Error(err, "unreadable answer", "peer", msg.From)
		return
	}
	if err := n.engine.SetRemoteDescription(answer); err != nil {
		n.log.Error(err, "failed to apply remote answer", "peer", msg.From, "state", n.state.String())
		return
	}
	n.remoteDescSet = true
	n.flushCandidates()
	n.log.V(1).Info("answer applied", "peer", msg.From)
}

// handleCandidate applies every distinct candidate exactly once. Candidates
// that arrive before a remote description are parked until one is set.
func (n *Negotiator) handleCandidate(msg signaling.Message) {
	candidate, err := msg.Candidate()
	if err != nil {
		n.log.Error(err, "unreadable candidate", "peer", msg.From)
		return
	}

	key := candidateKey(candidate)
	if n.seen[key] {
		n.log.V(1).Info("duplicate candidate", "peer", msg.From)
		return
	}
	n.seen[key] = true

	if !n.remoteDescSet {
		n.pending = append(n.pending, candidate)
		util.Stats.AddCandidateQueued()
		return
	}
	n.applyCandidate(candidate)
}

func candidateKey(c webrtc.ICECandidateInit) string {
	key := c.Candidate
	if c.UsernameFragment != nil {
		key += "|" + *c.UsernameFragment
	}
	return key
}

func (n *Negotiator) flushCandidates() {
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		n.applyCandidate(c)
	}
}

func (n *Negotiator) applyCandidate(c webrtc.ICECandidateInit) {
	if err := n.engine.AddICECandidate(c); err != nil {
		util.Stats.AddCandidateDropped()
		n.log.Error(err, "dropping remote candidate", "candidate", c.Candidate)
		return
	}
	util.Stats.AddCandidateApplied()
}

// handleLeave forgets the peer's stream. The engine's own connection state
// tells the UI what happened to the media path.
func (n *Negotiator) handleLeave(msg signaling.Message) {
	n.log.Info("peer left", "peer", msg.From)
	delete(n.announcedTo, msg.From)
	n.remote = nil
}

func (n *Negotiator) attachLocalTracks() error {
	if n.local == nil {
		return nil
	}
	var firstErr error
	for _, track := range n.local.Tracks() {
		if n.attached[track.ID()] {
			continue
		}
		if err := n.engine.AddTrack(track.Local()); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.attached[track.ID()] = true
	}
	return firstErr
}

func (n *Negotiator) sendCandidate(c webrtc.ICECandidateInit) {
	msg, err := signaling.NewCandidate(n.room, n.identity, c)
	if err != nil {
		n.log.Error(err, "failed to encode local candidate")
		return
	}
	n.publish(msg)
}

// publish sends msg once. Failures are transient from the negotiator's point
// of view and are not retried.
func (n *Negotiator) publish(msg signaling.Message) {
	if n.handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, publishTimeout)
	defer cancel()

	if err := n.channel.Publish(ctx, n.handle, msg); err != nil {
		n.log.Error(err, "failed to publish", "kind", string(msg.Kind))
		return
	}
	util.Stats.AddSent()
}

func (n *Negotiator) handleRemoteTrack(track media.RemoteTrack) {
	if n.remote == nil || n.remote.ID() != track.StreamID() {
		n.remote = media.NewRemoteStream(track.StreamID())
	}
	n.remote.AddTrack(track)
	n.log.Info("remote track received", "kind", track.Kind().String(), "stream", track.StreamID())

	if fn := n.onRemoteStream; fn != nil {
		stream := n.remote
		n.notifier.push(func() { fn(stream) })
	}
}

func (n *Negotiator) handleConnectionState(state webrtc.PeerConnectionState) {
	n.log.V(1).Info("connection state", "state", state.String())
	if state == webrtc.PeerConnectionStateConnected && n.state == StateNegotiating {
		n.transition(StateConnected)
		n.log.Info("connected")
	}

	if fn := n.onStateChange; fn != nil {
		n.notifier.push(func() { fn(state) })
	}
}
