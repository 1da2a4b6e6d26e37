// Package app contains the top-level orchestration for the relay and join
// modes.
package app

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/pairroom/internal/config"
	"github.com/1ureka/pairroom/internal/relay"
	"github.com/1ureka/pairroom/internal/util"
)

// RunRelay serves the signaling relay until ctx is cancelled:
//  1. Build the relay with the configured origins and rate limit
//  2. Listen on the configured address
//  3. Print the endpoint peers should join through
//  4. Block until shutdown, then disconnect every peer
func RunRelay(ctx context.Context, cfg *config.Config) error {
	// ── 1. Relay ───────────────────────────────────────────────────────
	srv := relay.NewServer(relay.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	})

	// ── 2. Listen ──────────────────────────────────────────────────────
	addr, err := srv.Start(cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer srv.Close()

	// ── 3. Banner ──────────────────────────────────────────────────────
	pterm.DefaultBox.WithTitle("Signaling Relay").Println(fmt.Sprintf(
		"Listen   : %s\nJoin at  : ws://%s/ws?room=<code>&id=<identity>\nPresence : /rooms/<code>/presence",
		addr, addr,
	))
	util.LogSuccess("relay is up, press Ctrl+C to stop")

	// ── 4. Block until shutdown ────────────────────────────────────────
	<-ctx.Done()
	util.LogInfo("shutting down relay")
	return nil
}
