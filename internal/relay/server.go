// Package relay is the signaling relay service: WebSocket peers join a room
// and every message a peer sends is broadcast to the whole room.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/1ureka/pairroom/internal/presence"
	"github.com/1ureka/pairroom/internal/signaling"
	"github.com/1ureka/pairroom/internal/util"
)

// Config tunes the relay. Zero values take defaults.
type Config struct {
	AllowedOrigins []string // empty allows every origin
	RateLimit      float64  // inbound messages per second per connection
	RateBurst      int64
	MaxMembers     int // participants per room, 2 by default

	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	Logger logr.Logger
}

func (c *Config) applyDefaults() {
	if c.RateLimit <= 0 {
		c.RateLimit = 50
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 100
	}
	if c.MaxMembers <= 0 {
		c.MaxMembers = 2
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.Logger.GetSink() == nil {
		c.Logger = util.Log()
	}
}

// Server is the relay HTTP server.
type Server struct {
	cfg      Config
	hub      *signaling.Hub
	engine   *gin.Engine
	http     *http.Server
	upgrader websocket.Upgrader
	log      logr.Logger

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// NewServer builds the relay and its routes. Nothing listens until Start or
// Serve is called.
func NewServer(cfg Config) *Server {
	cfg.applyDefaults()
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:   cfg,
		hub:   signaling.NewHub(signaling.HubConfig{MaxMembers: cfg.MaxMembers}),
		log:   cfg.Logger.WithName("relay"),
		peers: make(map[*peer]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.corsMiddleware())
	engine.GET("/ws", s.handleWS)
	engine.GET("/rooms/:room/presence", s.handlePresence)
	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	s.engine = engine
	s.http = &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	return s
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = s.cfg.AllowedOrigins
	}
	return cors.New(cc)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler exposes the routes, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub is the room fan-out shared by every connection.
func (s *Server) Hub() *signaling.Hub { return s.hub }

// Start listens on addr and serves in the background. It returns the bound
// address, which matters when addr uses port 0.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			s.log.Error(err, "relay stopped")
		}
	}()
	return ln.Addr(), nil
}

// Serve accepts connections on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops accepting connections, says goodbye to every live peer and
// ends all room subscriptions.
func (s *Server) Close() error {
	err := s.http.Close()

	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	return errors.Join(err, s.hub.Close())
}

func validRoom(room string) bool {
	return govalidator.IsAlphanumeric(room) && govalidator.StringLength(room, "4", "32")
}

func validIdentity(id string) bool {
	return govalidator.IsPrintableASCII(id) && govalidator.StringLength(id, "1", "64")
}

func (s *Server) handleWS(c *gin.Context) {
	room, id := c.Query("room"), c.Query("id")
	if !validRoom(room) || !validIdentity(id) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "invalid room or id"})
		return
	}

	p := newPeer(room, id, s.cfg, s.log)

	// Subscribe before upgrading so a full room is refused with a plain status.
	sub, err := s.hub.Connect(id).Subscribe(c.Request.Context(), room, p.deliver)
	switch {
	case errors.Is(err, signaling.ErrRoomFull):
		c.JSON(http.StatusConflict, gin.H{"status": "fail", "reason": signaling.ReasonRoomFull, "message": "room is full"})
		return
	case errors.Is(err, signaling.ErrIdentityTaken):
		c.JSON(http.StatusConflict, gin.H{"status": "fail", "reason": signaling.ReasonIdentityTaken, "message": "identity already in room"})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "fail", "message": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		_ = s.hub.Unsubscribe(sub)
		return
	}

	s.track(p, true)
	defer s.track(p, false)

	s.log.Info("peer joined", "room", room, "id", id)
	p.run(conn, s.hub, sub)
	s.log.Info("peer left", "room", room, "id", id)
}

func (s *Server) track(p *peer, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if live {
		s.peers[p] = struct{}{}
	} else {
		delete(s.peers, p)
	}
}

func (s *Server) handlePresence(c *gin.Context) {
	room := c.Param("room")
	if !validRoom(room) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "invalid room"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	members, err := s.hub.Members(ctx, room)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "fail", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, presence.NewSnapshot(room, members))
}
