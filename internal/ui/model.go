// ABOUTME: Bubbletea model for the playback view
// ABOUTME: Shows progress and pause state, and forwards keys to the control listener
package ui

import (
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/trackstream/internal/control"
	"github.com/Resonate-Protocol/trackstream/internal/playback"
	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 30

// ProgressMsg carries a progress report from the playback controller
type ProgressMsg playback.Progress

// DoneMsg ends the view
type DoneMsg struct {
	Result playback.Result
	Err    error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	playingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

// Model represents the playback view state
type Model struct {
	server  string
	track   protocol.TrackInfo
	keys    control.KeyMap
	signals *control.ChanSource

	progress playback.Progress

	done   bool
	result playback.Result
	err    error
}

// NewModel creates a playback view. Keys are translated with keys and sent to signals.
func NewModel(server string, track protocol.TrackInfo, keys control.KeyMap, signals *control.ChanSource) Model {
	return Model{
		server:  server,
		track:   track,
		keys:    keys,
		signals: signals,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case ProgressMsg:
		m.progress = playback.Progress(msg)
	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if msg.Type == tea.KeySpace {
		key = " "
	}

	sig := m.keys.Lookup(key)
	if msg.Type == tea.KeyCtrlC {
		sig = control.SignalStop
	}
	if sig != control.SignalNone && m.signals != nil {
		m.signals.Send(sig)
	}
	return m, nil
}

// View renders the playback view
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Trackstream Player"))
	if m.server != "" {
		b.WriteString(helpStyle.Render(" · " + m.server))
	}
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Now Playing: "))
	b.WriteString(trackTitle(m.track))
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Format:      "))
	b.WriteString(fmt.Sprintf("%s %dHz %s %d-bit", m.track.Codec, m.track.SampleRate, channelName(m.track.Channels), m.track.BitDepth))
	b.WriteString("\n\n")

	b.WriteString(FormatProgress(m.progress))
	b.WriteString("\n")

	if m.done {
		b.WriteString(m.summary())
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.helpText()))
	b.WriteString("\n")
	return b.String()
}

// FormatProgress renders the progress line: bar, elapsed and total time,
// percent of bytes received, and the playback state
func FormatProgress(p playback.Progress) string {
	fraction := 0.0
	if p.Total > 0 {
		fraction = float64(p.Elapsed) / float64(p.Total)
	}
	return fmt.Sprintf("[%s] %s / %s  %3.0f%%  %s",
		renderBar(fraction, barWidth),
		formatClock(p.Elapsed),
		formatClock(p.Total),
		p.Percent(),
		stateLabel(p.State))
}

func stateLabel(state playback.State) string {
	switch state {
	case playback.StatePaused:
		return pausedStyle.Render("⏸ Paused")
	case playback.StateStreaming:
		return playingStyle.Render("▶ Playing")
	case playback.StateIdle:
		return helpStyle.Render("Buffering...")
	default:
		return state.String()
	}
}

func (m Model) summary() string {
	return Summary(m.result, m.err)
}

// Summary describes how a playback ended
func Summary(result playback.Result, err error) string {
	if err != nil {
		return errorStyle.Render("Playback failed: " + err.Error())
	}
	switch result.State {
	case playback.StateFinished:
		return noticeStyle.Render("Playback finished.")
	case playback.StateStopped:
		return noticeStyle.Render("Playback stopped.")
	default:
		return result.State.String()
	}
}

func (m Model) helpText() string {
	return fmt.Sprintf("%s: Pause/Resume  %s: Stop", keyNames(m.keys.TogglePause), keyNames(m.keys.Stop))
}

func keyNames(keys []string) string {
	names := make([]string, len(keys))
	for i, k := range keys {
		if k == " " {
			k = "space"
		}
		names[i] = k
	}
	return strings.Join(names, "/")
}

func trackTitle(t protocol.TrackInfo) string {
	switch {
	case t.Title != "" && t.Artist != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	default:
		return t.FileName
	}
}

// renderBar draws a bar filled to fraction, clamped to [0,1]
func renderBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
