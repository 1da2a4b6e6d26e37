package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/1ureka/pairroom/internal/util"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
	maxFrameSize        = 64 * 1024
)

// ClientConfig configures a relay Client.
type ClientConfig struct {
	URL      string // relay WebSocket endpoint, e.g. ws://127.0.0.1:7000/ws
	Identity string

	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	Dialer *websocket.Dialer
	Logger logr.Logger
}

// Client is a Channel backed by a relay server. Each Subscribe opens its own
// WebSocket connection to <URL>?room=<room>&id=<identity>.
type Client struct {
	cfg ClientConfig
	log logr.Logger
}

// NewClient creates a relay client. Zero durations take defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = util.Log()
	}
	return &Client{cfg: cfg, log: log.WithName("signaling")}
}

// remoteSubscription is a Handle issued by a Client.
type remoteSubscription struct {
	client *Client
	room   string
	conn   *websocket.Conn
	out    *sender

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (s *remoteSubscription) Room() string { return s.room }

// close stops the writer, which flushes pending messages and closes the
// connection, and waits for it to finish.
func (s *remoteSubscription) close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

// Subscribe dials the relay and starts delivering room messages to fn.
func (c *Client) Subscribe(ctx context.Context, room string, fn Handler) (Handle, error) {
	endpoint, err := c.endpoint(room)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("failed to join room %s: %w", room, refusal(resp))
		}
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	sub := &remoteSubscription{
		client:  c,
		room:    room,
		conn:    conn,
		out:     newSender(conn, c.cfg.PingInterval, c.cfg.WriteWait, c.log),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go sub.out.loop(sub.done, sub.stopped, func(err error) {
		c.log.Error(err, "relay write failed", "room", room)
	})
	go c.readLoop(sub, fn)

	c.log.V(1).Info("subscribed", "room", room, "url", endpoint)
	return sub, nil
}

// readLoop decodes frames and hands them to fn in arrival order. Frames that
// are not JSON envelopes are skipped.
func (c *Client) readLoop(sub *remoteSubscription, fn Handler) {
	defer sub.close()

	sub.conn.SetReadLimit(maxFrameSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			select {
			case <-sub.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Error(err, "relay connection lost", "room", sub.room)
				}
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.V(1).Info("skipping undecodable frame", "room", sub.room, "err", err.Error())
			continue
		}
		fn(msg)
	}
}

// Publish queues msg for the relay. Sender and room are filled in when empty.
func (c *Client) Publish(ctx context.Context, h Handle, msg Message) error {
	sub, ok := h.(*remoteSubscription)
	if !ok || sub.client != c {
		return ErrForeignHandle
	}
	if msg.From == "" {
		msg.From = c.cfg.Identity
	}
	if msg.Room == "" {
		msg.Room = sub.room
	}

	select {
	case <-sub.done:
		return ErrClosed
	case <-sub.stopped:
		return ErrClosed
	default:
	}

	select {
	case sub.out.inbox <- msg:
		return nil
	case <-sub.done:
		return ErrClosed
	case <-sub.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe flushes queued messages and closes the connection.
func (c *Client) Unsubscribe(h Handle) error {
	sub, ok := h.(*remoteSubscription)
	if !ok || sub.client != c {
		return ErrForeignHandle
	}
	sub.close()
	return nil
}

// refusal maps the relay's 409 body to a sentinel. gorilla keeps the first
// kilobyte of a failed handshake's body for us.
func refusal(resp *http.Response) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if resp.Body != nil {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	}
	if body.Reason == ReasonIdentityTaken {
		return ErrIdentityTaken
	}
	return ErrRoomFull
}

func (c *Client) endpoint(room string) (string, error) {
	if room == "" {
		return "", errors.New("missing room")
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL %q: %w", c.cfg.URL, err)
	}
	q := u.Query()
	q.Set("room", room)
	q.Set("id", c.cfg.Identity)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
