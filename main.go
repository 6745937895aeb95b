// ABOUTME: Entry point for the trackstream player
// ABOUTME: Parses CLI flags and runs the interactive player
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/trackstream/internal/app"
	"github.com/Resonate-Protocol/trackstream/internal/control"
	"github.com/Resonate-Protocol/trackstream/internal/playback"
	"github.com/Resonate-Protocol/trackstream/internal/version"
)

var (
	serverAddr       = flag.String("server", "", "Server address host:port (default: discover via mDNS)")
	name             = flag.String("name", "", "Player friendly name (default: hostname-trackstream-player)")
	logFile          = flag.String("log-file", "trackstream-player.log", "Log file path")
	noTUI            = flag.Bool("no-tui", false, "Disable the playback TUI and print progress lines instead")
	chunkTimeout     = flag.Duration("chunk-timeout", playback.DefaultChunkTimeout, "Give up when no chunk arrives for this long")
	discoveryTimeout = flag.Duration("discovery-timeout", app.DefaultDiscoveryTimeout, "How long to search for a server")
	pauseKey         = flag.String("pause-key", "p", "Key that toggles pause (space always works)")
	stopKey          = flag.String("stop-key", "q", "Key that stops playback")
	showVersion      = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// The menu and playback view own the terminal
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	playerName := *name
	if playerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		playerName = fmt.Sprintf("%s-trackstream-player", hostname)
	}

	keys := control.KeyMap{
		TogglePause: []string{*pauseKey},
		Stop:        []string{*stopKey},
	}
	if *pauseKey != " " {
		keys.TogglePause = append(keys.TogglePause, " ")
	}

	log.Printf("Starting %s: %s", version.String(), playerName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	player := app.New(app.Config{
		ServerAddr:       *serverAddr,
		Name:             playerName,
		Keys:             keys,
		UseTUI:           useTUI,
		ChunkTimeout:     *chunkTimeout,
		DiscoveryTimeout: *discoveryTimeout,
	})

	if err := player.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Player error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log.Printf("Player stopped")
}
