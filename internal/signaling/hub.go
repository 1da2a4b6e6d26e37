package signaling

import (
	"context"
	"sort"
	"sync"
)

const defaultInboxSize = 256

// HubConfig tunes a Hub.
type HubConfig struct {
	InboxSize  int // per-subscriber queue length
	MaxMembers int // 0 means unlimited
}

// Hub is an in-process Channel. Every subscription owns an inbox and a
// delivery goroutine, so a slow handler only delays its own messages.
//
// The relay server fans WebSocket peers into a Hub, and tests use one
// directly to connect negotiators without a network.
type Hub struct {
	cfg HubConfig

	mu     sync.Mutex
	rooms  map[string]map[*subscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	return &Hub{
		cfg:   cfg,
		rooms: make(map[string]map[*subscription]struct{}),
	}
}

// subscription is a Handle issued by a Hub.
type subscription struct {
	hub      *Hub
	room     string
	identity string
	fn       Handler

	inbox chan Message
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) Room() string { return s.room }

// loop hands queued messages to the handler until the subscription ends.
// Messages still queued at that point are dropped.
func (s *subscription) loop() {
	for {
		select {
		case msg := <-s.inbox:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(msg)
		case <-s.done:
			return
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Connect returns a view of the hub bound to identity, so that Members can
// report who is subscribed. An identity holds at most one subscription per
// room. The Hub itself subscribes anonymously.
func (h *Hub) Connect(identity string) Channel {
	return &member{hub: h, identity: identity}
}

type member struct {
	hub      *Hub
	identity string
}

func (m *member) Subscribe(ctx context.Context, room string, fn Handler) (Handle, error) {
	sub, err := m.hub.subscribe(ctx, room, m.identity, fn)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (m *member) Publish(ctx context.Context, h Handle, msg Message) error {
	return m.hub.Publish(ctx, h, msg)
}

func (m *member) Unsubscribe(h Handle) error {
	return m.hub.Unsubscribe(h)
}

// Subscribe implements Channel.
func (h *Hub) Subscribe(ctx context.Context, room string, fn Handler) (Handle, error) {
	sub, err := h.subscribe(ctx, room, "", fn)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (h *Hub) subscribe(ctx context.Context, room, identity string, fn Handler) (*subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	members := h.rooms[room]
	if identity != "" {
		for other := range members {
			if other.identity == identity {
				return nil, ErrIdentityTaken
			}
		}
	}
	if h.cfg.MaxMembers > 0 && len(members) >= h.cfg.MaxMembers {
		return nil, ErrRoomFull
	}
	if members == nil {
		members = make(map[*subscription]struct{})
		h.rooms[room] = members
	}

	sub := &subscription{
		hub:      h,
		room:     room,
		identity: identity,
		fn:       fn,
		inbox:    make(chan Message, h.cfg.InboxSize),
		done:     make(chan struct{}),
	}
	members[sub] = struct{}{}
	go sub.loop()

	return sub, nil
}

// Publish delivers msg to every subscriber of the handle's room, the
// publisher included. It blocks while a receiver's inbox is full.
func (h *Hub) Publish(ctx context.Context, handle Handle, msg Message) error {
	sub, ok := handle.(*subscription)
	if !ok || sub.hub != h {
		return ErrForeignHandle
	}

	h.mu.Lock()
	if _, live := h.rooms[sub.room][sub]; !live {
		h.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*subscription, 0, len(h.rooms[sub.room]))
	for s := range h.rooms[sub.room] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, target := range targets {
		select {
		case target.inbox <- msg:
		case <-target.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Unsubscribe implements Channel.
func (h *Hub) Unsubscribe(handle Handle) error {
	sub, ok := handle.(*subscription)
	if !ok || sub.hub != h {
		return ErrForeignHandle
	}

	h.mu.Lock()
	if members, exists := h.rooms[sub.room]; exists {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.rooms, sub.room)
		}
	}
	h.mu.Unlock()

	sub.stop()
	return nil
}

// Members returns the sorted identities currently subscribed to room.
// Anonymous subscriptions are not listed.
func (h *Hub) Members(ctx context.Context, room string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]struct{})
	identities := make([]string, 0, len(h.rooms[room]))
	for sub := range h.rooms[room] {
		if sub.identity == "" {
			continue
		}
		if _, dup := seen[sub.identity]; dup {
			continue
		}
		seen[sub.identity] = struct{}{}
		identities = append(identities, sub.identity)
	}
	sort.Strings(identities)
	return identities, nil
}

// Close ends every subscription. Further calls to Subscribe fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for room, members := range h.rooms {
		for sub := range members {
			sub.stop()
		}
		delete(h.rooms, room)
	}
	return nil
}
