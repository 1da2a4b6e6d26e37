package signaling

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector chan Message

func (c collector) handle(msg Message) { c <- msg }

func (c collector) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-c:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return Message{}
	}
}

func TestHubDeliveryIsSelfInclusive(t *testing.T) {
	hub := NewHub(HubConfig{})
	defer hub.Close()
	ctx := context.Background()

	alice, bob := make(collector, 8), make(collector, 8)
	ha, err := hub.Connect("alice").Subscribe(ctx, "R7K2", alice.handle)
	require.NoError(t, err)
	_, err = hub.Connect("bob").Subscribe(ctx, "R7K2", bob.handle)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, ha, NewReady("R7K2", "alice")))

	assert.Equal(t, "alice", alice.next(t).From)
	assert.Equal(t, "alice", bob.next(t).From)
}

func TestHubScopesByRoom(t *testing.T) {
	hub := NewHub(HubConfig{})
	defer hub.Close()
	ctx := context.Background()

	here, elsewhere := make(collector, 8), make(collector, 8)
	h, err := hub.Subscribe(ctx, "R7K2", here.handle)
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, "Q9ZX", elsewhere.handle)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, h, NewReady("R7K2", "x")))
	here.next(t)

	select {
	case msg := <-elsewhere:
		t.Fatalf("message leaked across rooms: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubPreservesPerSenderOrder(t *testing.T) {
	hub := NewHub(HubConfig{InboxSize: 4})
	defer hub.Close()
	ctx := context.Background()

	received := make(collector, 128)
	ha, err := hub.Connect("alice").Subscribe(ctx, "R7K2", func(Message) {})
	require.NoError(t, err)
	_, err = hub.Connect("bob").Subscribe(ctx, "R7K2", func(msg Message) {
		time.Sleep(time.Millisecond)
		received <- msg
	})
	require.NoError(t, err)

	for i := 0; i < 32; i++ {
		require.NoError(t, hub.Publish(ctx, ha, Message{Kind: KindReady, From: "alice", Room: "R7K2", To: fmt.Sprint(i)}))
	}
	for i := 0; i < 32; i++ {
		assert.Equal(t, fmt.Sprint(i), received.next(t).To)
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(HubConfig{})
	ctx := context.Background()

	h, err := hub.Connect("alice").Subscribe(ctx, "R7K2", func(Message) {})
	require.NoError(t, err)

	require.NoError(t, hub.Unsubscribe(h))
	require.NoError(t, hub.Unsubscribe(h))
	assert.ErrorIs(t, hub.Publish(ctx, h, NewReady("R7K2", "alice")), ErrClosed)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Unsubscribe(h), "safe after teardown")

	_, err = hub.Subscribe(ctx, "R7K2", func(Message) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHubMembersAndCapacity(t *testing.T) {
	hub := NewHub(HubConfig{MaxMembers: 2})
	defer hub.Close()
	ctx := context.Background()

	hb, err := hub.Connect("bob").Subscribe(ctx, "R7K2", func(Message) {})
	require.NoError(t, err)
	_, err = hub.Connect("alice").Subscribe(ctx, "R7K2", func(Message) {})
	require.NoError(t, err)

	members, err := hub.Members(ctx, "R7K2")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	hc, err := hub.Connect("carol").Subscribe(ctx, "R7K2", func(Message) {})
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Nil(t, hc, "a refused subscription returns a nil handle")

	require.NoError(t, hub.Unsubscribe(hb))
	members, err = hub.Members(ctx, "R7K2")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	empty, err := hub.Members(ctx, "NOBODY")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHubRejectsDuplicateIdentity(t *testing.T) {
	hub := NewHub(HubConfig{})
	defer hub.Close()
	ctx := context.Background()

	first, err := hub.Connect("alice").Subscribe(ctx, "R7K2", func(Message) {})
	require.NoError(t, err)

	dup, err := hub.Connect("alice").Subscribe(ctx, "R7K2", func(Message) {})
	assert.ErrorIs(t, err, ErrIdentityTaken)
	assert.Nil(t, dup)

	members, err := hub.Members(ctx, "R7K2")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	_, err = hub.Connect("alice").Subscribe(ctx, "Q9X4", func(Message) {})
	assert.NoError(t, err, "the same identity may be in another room")

	// Anonymous subscriptions are not identities.
	for i := 0; i < 2; i++ {
		_, err = hub.Subscribe(ctx, "R7K2", func(Message) {})
		require.NoError(t, err)
	}

	require.NoError(t, hub.Unsubscribe(first))
	_, err = hub.Connect("alice").Subscribe(ctx, "R7K2", func(Message) {})
	assert.NoError(t, err, "the identity is free again once it left")
}

func TestHubRejectsForeignHandle(t *testing.T) {
	a, b := NewHub(HubConfig{}), NewHub(HubConfig{})
	defer a.Close()
	defer b.Close()

	h, err := a.Subscribe(context.Background(), "R7K2", func(Message) {})
	require.NoError(t, err)

	err = b.Publish(context.Background(), h, NewReady("R7K2", "x"))
	assert.True(t, errors.Is(err, ErrForeignHandle))
}

func TestHubPublishHonoursContext(t *testing.T) {
	hub := NewHub(HubConfig{InboxSize: 1})
	defer hub.Close()

	block := make(chan struct{})
	defer close(block)

	h, err := hub.Subscribe(context.Background(), "R7K2", func(Message) { <-block })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var lastErr error
	for i := 0; i < 4 && lastErr == nil; i++ {
		lastErr = hub.Publish(ctx, h, NewReady("R7K2", "x"))
	}
	assert.ErrorIs(t, lastErr, context.DeadlineExceeded)
}
