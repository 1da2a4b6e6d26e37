package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/juju/ratelimit"

	"github.com/1ureka/pairroom/internal/signaling"
)

const (
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// peer is one WebSocket participant of a room.
type peer struct {
	room     string
	identity string
	cfg      Config
	log      logr.Logger

	limiter *ratelimit.Bucket
	send    chan signaling.Message

	done chan struct{}
	once sync.Once
}

func newPeer(room, identity string, cfg Config, log logr.Logger) *peer {
	return &peer{
		room:     room,
		identity: identity,
		cfg:      cfg,
		log:      log.WithValues("room", room, "id", identity),
		limiter:  ratelimit.NewBucketWithRate(cfg.RateLimit, cfg.RateBurst),
		send:     make(chan signaling.Message, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// deliver is the hub handler. A peer that cannot keep up loses messages
// rather than stalling the room.
func (p *peer) deliver(msg signaling.Message) {
	select {
	case p.send <- msg:
	case <-p.done:
	default:
		p.log.Info("send queue full, dropping message", "kind", msg.Kind)
	}
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

// run pumps the connection until either side gives up, then leaves the room.
func (p *peer) run(conn *websocket.Conn, hub *signaling.Hub, sub signaling.Handle) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writeLoop(conn)
	}()

	p.readLoop(conn, hub, sub)

	p.close()
	_ = hub.Unsubscribe(sub)
	<-writerDone
}

// readLoop stamps and publishes every inbound message. Sender and room always
// come from the connection, never from the client.
func (p *peer) readLoop(conn *websocket.Conn, hub *signaling.Hub, sub signaling.Handle) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(p.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(p.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.V(1).Info("read failed", "err", err.Error())
			}
			return
		}

		if p.limiter.TakeAvailable(1) == 0 {
			p.log.Info("rate limit exceeded, dropping message")
			continue
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.log.V(1).Info("dropping undecodable frame", "err", err.Error())
			continue
		}
		msg.From = p.identity
		msg.Room = p.room

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteWait)
		err = hub.Publish(ctx, sub, msg)
		cancel()
		if errors.Is(err, signaling.ErrClosed) {
			return
		}
		if err != nil {
			p.log.Error(err, "broadcast failed", "kind", msg.Kind)
		}
	}
}

// writeLoop is the connection's only writer.
func (p *peer) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			_ = conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				p.log.V(1).Info("write failed", "err", err.Error())
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.cfg.WriteWait)); err != nil {
				return
			}

		case <-p.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing"),
				time.Now().Add(p.cfg.WriteWait))
			return
		}
	}
}
