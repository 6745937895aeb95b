// ABOUTME: Main player application orchestration
// ABOUTME: Connects to a server, runs the track menu, and drives one playback at a time
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Resonate-Protocol/trackstream/internal/client"
	"github.com/Resonate-Protocol/trackstream/internal/control"
	"github.com/Resonate-Protocol/trackstream/internal/discovery"
	"github.com/Resonate-Protocol/trackstream/internal/playback"
	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	"github.com/Resonate-Protocol/trackstream/internal/ui"
	"github.com/Resonate-Protocol/trackstream/internal/version"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultDiscoveryTimeout bounds the mDNS search when no server is given
const DefaultDiscoveryTimeout = 5 * time.Second

// Config holds player configuration
type Config struct {
	ServerAddr       string
	Name             string
	Keys             control.KeyMap
	UseTUI           bool
	ChunkTimeout     time.Duration
	PollInterval     time.Duration
	DiscoveryTimeout time.Duration

	// In and Out carry the menu. They default to stdin and stdout.
	In  io.Reader
	Out io.Writer

	// NewSink creates the output for each playback. It defaults to the system audio device.
	NewSink func() playback.Sink
}

// lineReader is where menu selections come from
type lineReader interface {
	ReadLine() (string, error)
}

// Player represents the main player application
type Player struct {
	config Config
	client *client.Client

	terminal *os.File
	menu     lineReader
	feed     *control.LineFeed
}

// New creates a new player
func New(config Config) *Player {
	if config.Name == "" {
		config.Name = version.Product
	}
	if len(config.Keys.TogglePause) == 0 && len(config.Keys.Stop) == 0 {
		config.Keys = control.DefaultKeyMap()
	}
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = playback.DefaultChunkTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = control.DefaultPollInterval
	}
	if config.DiscoveryTimeout <= 0 {
		config.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if config.In == nil {
		config.In = os.Stdin
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}
	if config.NewSink == nil {
		config.NewSink = func() playback.Sink { return playback.NewOtoSink() }
	}

	p := &Player{config: config}

	// A terminal is read synchronously so raw key handling can take over during
	// playback. Anything else is read one line at a time by a shared feed.
	if f, ok := config.In.(*os.File); ok && control.IsTerminal(f) {
		p.terminal = f
		p.menu = &bufferedLines{r: bufio.NewReader(f)}
	} else {
		p.feed = control.NewLineFeed(config.In)
		p.menu = p.feed
	}

	return p
}

// Run connects and serves the menu until the user exits, input ends, or ctx is done
func (p *Player) Run(ctx context.Context) error {
	addr := p.config.ServerAddr
	if addr == "" {
		p.printf("Searching for a trackstream server...\n")
		server, err := discovery.Discover(ctx, p.config.DiscoveryTimeout)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		addr = server.Addr()
		p.printf("Found %s at %s\n", server.Name, addr)
	}

	p.client = client.NewClient(client.Config{
		ServerAddr: addr,
		ClientID:   uuid.New().String(),
		Name:       p.config.Name,
		Version:    protocol.Version,
	})
	if err := p.client.Connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer p.client.Close()

	log.Printf("Connected to server: %s", addr)
	p.printf("Connected to %s\n", p.client.Server().Name)

	return p.menuLoop(ctx)
}

// menuLoop lists tracks and plays selections. Only exit, end of input, a lost
// connection, or ctx end it.
func (p *Player) menuLoop(ctx context.Context) error {
	for {
		tracks, err := p.client.ListTracks(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tracks: %w", err)
		}
		p.printf("%s", ui.FormatMenu(tracks))

		selection, err := p.readSelection(ctx, len(tracks))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if selection == 0 {
			p.printf("%s\n", ui.FormatNotice("Exiting program. Goodbye!"))
			return nil
		}

		if err := p.play(ctx, tracks[selection-1]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-p.client.Done():
				return err
			default:
			}
		}
	}
}

// readSelection prompts until a valid choice is entered
func (p *Player) readSelection(ctx context.Context, count int) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		p.printf("%s", ui.MenuPrompt)
		line, err := p.readLine(ctx)
		if err != nil {
			return 0, err
		}

		selection, err := ui.ParseSelection(line, count)
		if err != nil {
			p.printf("%s\n", ui.FormatError(err))
			continue
		}
		return selection, nil
	}
}

// readLine waits for a menu line or ctx. A read abandoned by ctx is left to
// finish on its own since the player is exiting.
func (p *Player) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.menu.ReadLine()
		ch <- result{line, err}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// play shows the track's metadata and plays it. Failures are reported to the
// user and returned so the caller can tell a lost connection apart.
func (p *Player) play(ctx context.Context, name string) error {
	info, err := p.client.GetMetadata(ctx, name)
	if err != nil {
		p.printf("%s\n", ui.FormatError(err))
		return err
	}
	p.printf("%s", ui.FormatMetadata(info))

	in, err := p.client.Stream(ctx, name)
	if err != nil {
		p.printf("%s\n", ui.FormatError(err))
		return err
	}
	track := in.Info().Track

	state := control.NewState()
	source, view, err := p.controls(track)
	if err != nil {
		in.Close()
		p.printf("%s\n", ui.FormatError(err))
		return err
	}

	onProgress := p.progressPrinter()
	if view != nil {
		onProgress = view.Progress
	}

	controller := playback.NewController(p.config.NewSink(), state, playback.Config{
		PollInterval: p.config.PollInterval,
		ChunkTimeout: p.config.ChunkTimeout,
		OnProgress:   onProgress,
	})
	listener := &control.Listener{
		Source:       source,
		State:        state,
		PollInterval: p.config.PollInterval,
		OnSignal: func(sig control.Signal) {
			log.Printf("Control signal: %s", sig)
		},
	}

	log.Printf("Playing %s (%dHz, %d channels)", name, track.SampleRate, track.Channels)

	var result playback.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		result, err = controller.Play(gctx, track, in)
		return err
	})
	g.Go(func() error {
		return listener.Run(gctx)
	})
	err = g.Wait()

	log.Printf("Playback of %s ended: %s after %d chunks", name, result.State, result.Chunks)

	if view != nil {
		if viewErr := view.Finish(result, err); viewErr != nil {
			log.Printf("TUI error: %v", viewErr)
		}
	} else {
		if p.terminal != nil {
			p.printf("\n")
		}
		p.printf("%s\n", ui.Summary(result, err))
	}
	return err
}

// controls picks the control source for one playback, and the view if the TUI is on
func (p *Player) controls(track protocol.TrackInfo) (control.Source, *ui.Playback, error) {
	switch {
	case p.terminal != nil && p.config.UseTUI:
		signals := control.NewChanSource(8)
		view := ui.StartPlayback(p.client.Server().Name, track, p.config.Keys, signals, tea.WithInput(p.terminal))
		return signals, view, nil

	case p.terminal != nil:
		source, err := control.NewTerminalSource(p.terminal, p.config.Keys)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read keys: %w", err)
		}
		return source, nil, nil

	default:
		return p.feed.Source(p.config.Keys), nil, nil
	}
}

// progressPrinter rewrites one status line on a terminal and stays quiet otherwise
func (p *Player) progressPrinter() func(playback.Progress) {
	if p.terminal == nil {
		return nil
	}
	return func(pr playback.Progress) {
		p.printf("\r%s\033[K", ui.FormatProgress(pr))
	}
}

func (p *Player) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.config.Out, format, args...)
}

// bufferedLines reads menu lines straight from a terminal
type bufferedLines struct {
	r *bufio.Reader
}

func (b *bufferedLines) ReadLine() (string, error) {
	line, err := b.r.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
