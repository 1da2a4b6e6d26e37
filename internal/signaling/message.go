// Package signaling carries call negotiation messages between the participants
// of a room. A Channel is the only contract the negotiator depends on; Hub is
// the in-process implementation and Client speaks to a relay over WebSocket.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind identifies the kind of signaling message.
type Kind string

const (
	KindReady     Kind = "ready"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "ice-candidate"
	KindLeave     Kind = "leave"
)

// ErrInvalidMessage is wrapped by every validation failure.
var ErrInvalidMessage = errors.New("invalid signaling message")

// Message is the JSON envelope broadcast to every subscriber of a room.
//
// From is the sender identity and is stamped by the relay for remote peers.
// To is reserved for addressed delivery and is not interpreted by the
// negotiator.
type Message struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"`
	Room    string          `json:"room"`
}

// NewReady announces that from is subscribed and ready to negotiate.
func NewReady(room, from string) Message {
	return Message{Kind: KindReady, From: from, Room: room}
}

// NewLeave announces that from is hanging up.
func NewLeave(room, from string) Message {
	return Message{Kind: KindLeave, From: from, Room: room}
}

// NewOffer wraps an SDP offer.
func NewOffer(room, from string, desc webrtc.SessionDescription) (Message, error) {
	return newDescription(KindOffer, room, from, desc)
}

// NewAnswer wraps an SDP answer.
func NewAnswer(room, from string, desc webrtc.SessionDescription) (Message, error) {
	return newDescription(KindAnswer, room, from, desc)
}

func newDescription(kind Kind, room, from string, desc webrtc.SessionDescription) (Message, error) {
	payload, err := json.Marshal(desc)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return Message{Kind: kind, Payload: payload, From: from, Room: room}, nil
}

// NewCandidate wraps a trickled ICE candidate.
func NewCandidate(room, from string, candidate webrtc.ICECandidateInit) (Message, error) {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode candidate: %w", err)
	}
	return Message{Kind: KindCandidate, Payload: payload, From: from, Room: room}, nil
}

// Description decodes the payload of an offer or answer.
func (m Message) Description() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(m.Payload, &desc); err != nil {
		return desc, fmt.Errorf("%w: %s payload: %v", ErrInvalidMessage, m.Kind, err)
	}
	return desc, nil
}

// Candidate decodes the payload of an ice-candidate message.
func (m Message) Candidate() (webrtc.ICECandidateInit, error) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Payload, &candidate); err != nil {
		return candidate, fmt.Errorf("%w: candidate payload: %v", ErrInvalidMessage, err)
	}
	return candidate, nil
}

// Validate checks that the envelope is complete and that the payload matches
// the kind. It does not look inside the SDP.
func (m Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if m.Room == "" {
		return fmt.Errorf("%w: missing room", ErrInvalidMessage)
	}

	switch m.Kind {
	case KindReady, KindLeave:
		return nil

	case KindOffer, KindAnswer:
		desc, err := m.Description()
		if err != nil {
			return err
		}
		want := webrtc.SDPTypeOffer
		if m.Kind == KindAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if desc.Type != want {
			return fmt.Errorf("%w: %s carries sdp type %q", ErrInvalidMessage, m.Kind, desc.Type.String())
		}
		if desc.SDP == "" {
			return fmt.Errorf("%w: empty sdp in %s", ErrInvalidMessage, m.Kind)
		}
		return nil

	case KindCandidate:
		candidate, err := m.Candidate()
		if err != nil {
			return err
		}
		if candidate.Candidate == "" {
			return fmt.Errorf("%w: empty candidate", ErrInvalidMessage)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
}

// Decode parses a wire frame and validates it.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
