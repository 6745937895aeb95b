// ABOUTME: Entry point for the trackstream server
// ABOUTME: Loads configuration, opens the audio library, and serves it until interrupted
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/trackstream/internal/config"
	"github.com/Resonate-Protocol/trackstream/internal/library"
	"github.com/Resonate-Protocol/trackstream/internal/server"
)

var (
	configPath  = flag.String("config", "", "YAML config file")
	port        = flag.Int("port", config.DefaultPort, "WebSocket server port")
	name        = flag.String("name", "", "Server friendly name (default: hostname-trackstream-server)")
	audioDir    = flag.String("audio-dir", config.DefaultAudioDir, "Directory of audio files to serve")
	chunkSize   = flag.Int("chunk-size", config.DefaultChunkSize, "Bytes of PCM per chunk")
	maxSessions = flag.Int("max-sessions", config.DefaultMaxSessions, "Maximum concurrent streams")
	cacheSize   = flag.Int("cache-size", config.DefaultCacheSize, "Track metadata cache entries")
	logFile     = flag.String("log-file", config.DefaultLogFile, "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noWatch     = flag.Bool("no-watch", false, "Rescan the audio directory on every request instead of watching it")
	useTUI      = flag.Bool("tui", false, "Show the status TUI")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags given on the command line win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "name":
			cfg.Name = *name
		case "audio-dir":
			cfg.AudioDir = *audioDir
		case "chunk-size":
			cfg.ChunkSize = *chunkSize
		case "max-sessions":
			cfg.MaxSessions = *maxSessions
		case "cache-size":
			cfg.CacheSize = *cacheSize
		case "log-file":
			cfg.LogFile = *logFile
		case "debug":
			cfg.Debug = *debug
		case "no-mdns":
			cfg.EnableMDNS = !*noMDNS
		case "no-watch":
			cfg.Watch = !*noWatch
		case "tui":
			cfg.UseTUI = *useTUI
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if cfg.UseTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Name = fmt.Sprintf("%s-trackstream-server", hostname)
	}

	log.Printf("Starting Trackstream Server: %s on port %d", cfg.Name, cfg.Port)
	if cfg.Debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", cfg.LogFile)

	lib, err := library.Open(cfg.AudioDir, cfg.CacheSize)
	if err != nil {
		log.Fatalf("Failed to open library: %v", err)
	}
	defer lib.Close()

	if cfg.Watch {
		if err := lib.Watch(); err != nil {
			log.Printf("Directory watch unavailable, rescanning per request: %v", err)
		}
	}

	srv := server.New(cfg, lib)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Printf("Server stopped")
}
