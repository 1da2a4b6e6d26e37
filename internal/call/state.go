package call

// State is the negotiator lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateAwaitingPeer
	StateNegotiating
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAwaitingPeer:
		return "awaiting-peer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// transitions lists the allowed edges. Initializing falls back to
// Uninitialized when the room subscription fails.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing, StateEnded},
	StateInitializing:  {StateAwaitingPeer, StateUninitialized, StateEnded},
	StateAwaitingPeer:  {StateNegotiating, StateEnded},
	StateNegotiating:   {StateConnected, StateEnded},
	StateConnected:     {StateEnded},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Role decides who sends the offer.
type Role int32

const (
	RoleResponder Role = iota
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}
