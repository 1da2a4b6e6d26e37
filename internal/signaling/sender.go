package signaling

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

const sendBufferSize = 64 // outgoing message channel capacity

// sender is the single writer of one WebSocket connection. Messages and
// keepalive pings share the loop so that frames never interleave.
type sender struct {
	conn  *websocket.Conn
	inbox chan Message

	pingInterval time.Duration
	writeWait    time.Duration
	log          logr.Logger
}

func newSender(conn *websocket.Conn, pingInterval, writeWait time.Duration, log logr.Logger) *sender {
	return &sender{
		conn:         conn,
		inbox:        make(chan Message, sendBufferSize),
		pingInterval: pingInterval,
		writeWait:    writeWait,
		log:          log,
	}
}

// loop writes queued messages until done is closed or a write fails. On done
// it flushes whatever is still queued, sends a close frame and closes the
// connection. stopped is closed on return.
func (s *sender) loop(done <-chan struct{}, stopped chan<- struct{}, onError func(error)) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(stopped)
	}()

	for {
		select {
		case msg := <-s.inbox:
			if err := s.write(msg); err != nil {
				onError(err)
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait)); err != nil {
				onError(err)
				return
			}

		case <-done:
			s.flush()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(s.writeWait))
			return
		}
	}
}

func (s *sender) flush() {
	for {
		select {
		case msg := <-s.inbox:
			if err := s.write(msg); err != nil {
				s.log.V(1).Info("dropping queued messages after write failure", "err", err.Error())
				return
			}
		default:
			return
		}
	}
}

func (s *sender) write(msg Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}
