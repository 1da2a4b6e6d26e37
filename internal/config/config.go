// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role represents the participant's negotiation role.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Mode selects what the binary runs.
type Mode string

const (
	ModeRelay Mode = "relay"
	ModeJoin  Mode = "join"
)

// EnvPrefix is prepended to every environment variable, e.g. PAIRROOM_ROOM.
const EnvPrefix = "PAIRROOM"

const (
	DefaultRelayURL         = "ws://127.0.0.1:7000/ws"
	DefaultListenAddr       = ":7000"
	DefaultRateLimit        = 50.0 // signaling messages per second per connection
	DefaultRateBurst        = 100
	DefaultWaitTimeout      = 2 * time.Minute
	DefaultPresenceInterval = 5 * time.Second
	DefaultRoomCodeLength   = 4
)

// DefaultICEServers mirrors the STUN-only setup: no TURN, direct P2P only.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config stores all parameters gathered from the config file, environment and
// CLI flags.
type Config struct {
	Mode     Mode   `mapstructure:"mode"`
	Role     Role   `mapstructure:"role"`
	Room     string `mapstructure:"room"`     // join: room code to negotiate in
	Identity string `mapstructure:"identity"` // join: local identity, generated when empty
	RelayURL string `mapstructure:"relay_url"`

	ListenAddr     string   `mapstructure:"listen_addr"`     // relay: HTTP listen address
	AllowedOrigins []string `mapstructure:"allowed_origins"` // relay: CORS origins, empty allows all
	RateLimit      float64  `mapstructure:"rate_limit"`      // relay: inbound messages/s per connection
	RateBurst      int64    `mapstructure:"rate_burst"`

	ICEServers       []string      `mapstructure:"ice_servers"`
	WaitTimeout      time.Duration `mapstructure:"wait_timeout"` // join: give up if never connected
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
	Debug            bool          `mapstructure:"debug"`
}

// Load builds a Config from defaults, an optional config file and PAIRROOM_*
// environment variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "")
	v.SetDefault("role", string(RoleResponder))
	v.SetDefault("room", "")
	v.SetDefault("identity", "")
	v.SetDefault("relay_url", DefaultRelayURL)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("rate_limit", DefaultRateLimit)
	v.SetDefault("rate_burst", DefaultRateBurst)
	v.SetDefault("ice_servers", DefaultICEServers)
	v.SetDefault("wait_timeout", DefaultWaitTimeout)
	v.SetDefault("presence_interval", DefaultPresenceInterval)
	v.SetDefault("debug", false)
}

// Validate checks the fields the selected mode depends on.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeRelay:
		if c.ListenAddr == "" {
			return errors.New("missing listen address")
		}
		if c.RateLimit <= 0 || c.RateBurst <= 0 {
			return fmt.Errorf("invalid rate limit %.1f/s burst %d", c.RateLimit, c.RateBurst)
		}
	case ModeJoin:
		if c.Role != RoleInitiator && c.Role != RoleResponder {
			return fmt.Errorf("invalid role %q: must be 'initiator' or 'responder'", c.Role)
		}
		if c.Room == "" {
			return errors.New("missing room code")
		}
		if _, err := NormalizeRelayURL(c.RelayURL); err != nil {
			return err
		}
		if c.WaitTimeout < 0 {
			return fmt.Errorf("invalid wait timeout %s", c.WaitTimeout)
		}
	default:
		return fmt.Errorf("invalid mode %q: must be 'relay' or 'join'", c.Mode)
	}
	return nil
}

// NormalizeRelayURL validates a raw relay URL and rewrites it to the relay's
// WebSocket endpoint. Bare hosts default to wss.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	switch u.Scheme {
	case "ws", "wss":
		scheme = u.Scheme
	case "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
