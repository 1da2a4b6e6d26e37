package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, RoleResponder, cfg.Role)
	assert.Equal(t, DefaultRelayURL, cfg.RelayURL)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultICEServers, cfg.ICEServers)
	assert.Equal(t, DefaultWaitTimeout, cfg.WaitTimeout)
	assert.Equal(t, int64(DefaultRateBurst), cfg.RateBurst)
	assert.False(t, cfg.Debug)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pairroom.yaml")
	content := []byte(`
mode: join
role: initiator
room: R7K2
relay_url: ws://relay.example:7000
wait_timeout: 30s
ice_servers:
  - stun:stun.example:3478
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("PAIRROOM_IDENTITY", "alice")
	t.Setenv("PAIRROOM_ROOM", "Q9ZX")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeJoin, cfg.Mode)
	assert.Equal(t, RoleInitiator, cfg.Role)
	assert.Equal(t, "Q9ZX", cfg.Room, "environment overrides the file")
	assert.Equal(t, "alice", cfg.Identity)
	assert.Equal(t, 30*time.Second, cfg.WaitTimeout)
	assert.Equal(t, []string{"stun:stun.example:3478"}, cfg.ICEServers)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Mode:       ModeJoin,
			Role:       RoleResponder,
			Room:       "R7K2",
			RelayURL:   DefaultRelayURL,
			ListenAddr: DefaultListenAddr,
			RateLimit:  DefaultRateLimit,
			RateBurst:  DefaultRateBurst,
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid join", mutate: func(*Config) {}},
		{name: "valid relay", mutate: func(c *Config) { c.Mode = ModeRelay }},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "host" }, wantErr: true},
		{name: "bad role", mutate: func(c *Config) { c.Role = "host" }, wantErr: true},
		{name: "missing room", mutate: func(c *Config) { c.Room = "" }, wantErr: true},
		{name: "bad relay url", mutate: func(c *Config) { c.RelayURL = "://" }, wantErr: true},
		{name: "negative wait", mutate: func(c *Config) { c.WaitTimeout = -time.Second }, wantErr: true},
		{name: "relay without listen addr", mutate: func(c *Config) {
			c.Mode = ModeRelay
			c.ListenAddr = ""
		}, wantErr: true},
		{name: "relay with zero rate", mutate: func(c *Config) {
			c.Mode = ModeRelay
			c.RateLimit = 0
		}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeRelayURL(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"ws://127.0.0.1:7000", "ws://127.0.0.1:7000/ws"},
		{"wss://relay.example/ws", "wss://relay.example/ws"},
		{"http://relay.example:8080/anything", "ws://relay.example:8080/ws"},
		{"https://relay.example", "wss://relay.example/ws"},
		{"relay.example:7000", "wss://relay.example:7000/ws"},
		{"  ws://padded:1/ ", "ws://padded:1/ws"},
	}
	for _, tc := range testCases {
		got, err := NormalizeRelayURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := NormalizeRelayURL("")
	assert.Error(t, err)
}
