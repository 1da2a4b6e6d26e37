// Pairroom — CLI entry point.
//
// This tool runs either the signaling relay or one participant of a two-party
// audio/video call. Participants meet in a room on the relay, negotiate a
// WebRTC session through it and then exchange media peer to peer.
//
// It can be launched interactively (no -mode) or non-interactively via CLI
// flags (-mode, -role, -room, -id, -relay, -listen, -wait). Values can also
// come from a config file (-config) or PAIRROOM_* environment variables;
// flags win.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/pairroom/internal/app"
	"github.com/1ureka/pairroom/internal/config"
	"github.com/1ureka/pairroom/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	mode := flag.String("mode", "", "Mode: relay or join")
	role := flag.String("role", "", "Join: initiator or responder")
	room := flag.String("room", "", "Join: room code")
	id := flag.String("id", "", "Join: participant identity (random when empty)")
	relayURL := flag.String("relay", "", "Join: relay host or URL")
	listen := flag.String("listen", "", "Relay: listen address, e.g. :7000")
	wait := flag.Duration("wait", config.DefaultWaitTimeout, "Join: give up if no peer connected within this duration (0 waits forever)")
	configPath := flag.String("config", "", "Optional config file (yaml, json or toml)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Only flags given on the command line override the file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = config.Mode(*mode)
		case "role":
			cfg.Role = config.Role(*role)
		case "room":
			cfg.Room = strings.ToUpper(strings.TrimSpace(*room))
		case "id":
			cfg.Identity = *id
		case "relay":
			cfg.RelayURL = *relayURL
		case "listen":
			cfg.ListenAddr = *listen
		case "wait":
			cfg.WaitTimeout = *wait
		case "debug":
			cfg.Debug = *debugMode
		}
	})

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Pairroom — v%s", version))
	pterm.Println()

	if cfg.Mode == "" {
		// No -mode → interactive mode.
		runInteractive(ctx, cfg)
	} else {
		run(ctx, cfg)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive asks for whatever the flags did not provide.
func runInteractive(ctx context.Context, cfg *config.Config) {
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Join  — Start or join a call", "Relay — Host the signaling relay"}).
		WithDefaultText("Select a mode").
		Show()
	pterm.Println()

	if strings.HasPrefix(mode, "Relay") {
		cfg.Mode = config.ModeRelay
		run(ctx, cfg)
		return
	}

	cfg.Mode = config.ModeJoin
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Initiator — Create a room and call", "Responder — Join an existing room"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if strings.HasPrefix(role, "Initiator") {
		cfg.Role = config.RoleInitiator
		if cfg.Room == "" {
			cfg.Room = util.NewRoomCode(config.DefaultRoomCodeLength)
			util.LogInfo("created room %s, share it with your peer", cfg.Room)
		}
	} else {
		cfg.Role = config.RoleResponder
		if cfg.Room == "" {
			cfg.Room = askRoom()
		}
	}

	cfg.RelayURL = askRelay(cfg.RelayURL)
	run(ctx, cfg)
}

// run validates cfg and executes the selected mode.
func run(ctx context.Context, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	var err error
	switch cfg.Mode {
	case config.ModeRelay:
		err = app.RunRelay(ctx, cfg)
	case config.ModeJoin:
		err = app.RunJoin(ctx, cfg)
	}

	if err != nil {
		if errors.Is(err, app.ErrNoPeer) {
			util.LogWarning("%v", err)
		} else {
			util.LogError("%v", err)
		}
		os.Exit(1)
	}

	util.LogInfo("successfully closed %s session", cfg.Mode)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askRoom prompts for a room code until a plausible one is entered.
func askRoom() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room code (e.g. R7K2)").
			Show()

		code := strings.ToUpper(strings.TrimSpace(raw))
		if len(code) >= config.DefaultRoomCodeLength {
			pterm.Println()
			return code
		}

		util.LogWarning("invalid room code: at least %d characters", config.DefaultRoomCodeLength)
		pterm.Println()
	}
}

// askRelay prompts for the relay address, offering current as the default.
func askRelay(current string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL").
			WithDefaultValue(current).
			Show()

		relayURL, err := config.NormalizeRelayURL(raw)
		if err == nil {
			pterm.Println()
			return relayURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
