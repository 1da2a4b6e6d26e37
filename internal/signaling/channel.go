package signaling

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when publishing through a handle that was
	// unsubscribed, or through a channel that was shut down.
	ErrClosed = errors.New("signaling channel closed")

	// ErrRoomFull is returned by Subscribe when the room already holds the
	// maximum number of participants.
	ErrRoomFull = errors.New("room is full")

	// ErrIdentityTaken is returned by Subscribe when another live
	// subscription already joined the room under the same identity.
	ErrIdentityTaken = errors.New("identity already in room")

	// ErrForeignHandle is returned when a handle from another channel is used.
	ErrForeignHandle = errors.New("handle does not belong to this channel")
)

// Reasons the relay gives when it refuses a subscription with 409 Conflict.
const (
	ReasonRoomFull      = "room-full"
	ReasonIdentityTaken = "identity-taken"
)

// Handler receives every message published to a subscribed room, including
// the subscriber's own. Messages from a single sender arrive in publish order.
type Handler func(Message)

// Handle identifies one live subscription.
type Handle interface {
	Room() string
}

// Channel is a topic-scoped broadcast channel.
//
// Delivery is best effort: no acknowledgement, no replay of messages published
// before Subscribe returned.
type Channel interface {
	Subscribe(ctx context.Context, room string, fn Handler) (Handle, error)
	Publish(ctx context.Context, h Handle, msg Message) error
	// Unsubscribe stops delivery. It is idempotent.
	Unsubscribe(h Handle) error
}
