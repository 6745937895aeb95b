// ABOUTME: TUI initialization and control
// ABOUTME: Wraps a bubbletea program that lives for the duration of one playback
package ui

import (
	"github.com/Resonate-Protocol/trackstream/internal/control"
	"github.com/Resonate-Protocol/trackstream/internal/playback"
	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

// Playback runs the playback view
type Playback struct {
	program *tea.Program
	done    chan struct{}
	err     error
}

// StartPlayback starts the view in the background. Keys pressed while it runs
// are delivered to signals.
func StartPlayback(server string, track protocol.TrackInfo, keys control.KeyMap, signals *control.ChanSource, opts ...tea.ProgramOption) *Playback {
	p := &Playback{
		program: tea.NewProgram(NewModel(server, track, keys, signals), opts...),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		if _, err := p.program.Run(); err != nil {
			p.err = err
		}
	}()

	return p
}

// Progress updates the view. It is safe to pass as playback.Config.OnProgress.
func (p *Playback) Progress(pr playback.Progress) {
	p.program.Send(ProgressMsg(pr))
}

// Finish shows the outcome and waits for the view to exit
func (p *Playback) Finish(result playback.Result, err error) error {
	p.program.Send(DoneMsg{Result: result, Err: err})
	<-p.done
	return p.err
}

// Done is closed when the view has exited
func (p *Playback) Done() <-chan struct{} {
	return p.done
}
