// ABOUTME: Text menu for choosing a track and printing its metadata
// ABOUTME: Selection parsing reports malformed and out-of-range input without ending the loop
package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	"github.com/charmbracelet/lipgloss"
)

var (
	// ErrInvalidSelection is returned for a number outside the menu
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrMalformedInput is returned for input that is not a number
	ErrMalformedInput = errors.New("malformed input")
)

var (
	menuTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
)

const rule = "-------------------------------"

// MenuPrompt is printed before reading a selection
const MenuPrompt = "\nSelect a file to play (number): "

// FormatMenu renders the numbered track list. Entry 0 exits.
func FormatMenu(tracks []string) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(menuTitleStyle.Render("--- TRACKSTREAM PLAYER ---"))
	b.WriteString("\n")

	if len(tracks) == 0 {
		b.WriteString("No audio files available.\n\n")
	} else {
		b.WriteString("Available audio files:\n\n")
		for i, name := range tracks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, name)
		}
	}
	b.WriteString("0. Exit\n")
	b.WriteString(rule)
	b.WriteString("\n")
	return b.String()
}

// ParseSelection turns menu input into a track number in 1..count, or 0 to exit
func ParseSelection(input string, count int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("%w: please enter a number", ErrMalformedInput)
	}
	if n < 0 || n > count {
		return 0, fmt.Errorf("%w: please try again", ErrInvalidSelection)
	}
	return n, nil
}

// FormatDuration renders whole seconds as "M min S sec"
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d min %d sec", seconds/60, seconds%60)
}

// FormatMetadata renders the block shown before playback
func FormatMetadata(info protocol.TrackInfo) string {
	var b strings.Builder

	b.WriteString("\n--- FILE METADATA ---\n")
	fmt.Fprintf(&b, "File Name         : %s\n", info.FileName)
	if info.Title != "" {
		fmt.Fprintf(&b, "Title             : %s\n", info.Title)
	}
	if info.Artist != "" {
		fmt.Fprintf(&b, "Artist            : %s\n", info.Artist)
	}
	if info.Album != "" {
		fmt.Fprintf(&b, "Album             : %s\n", info.Album)
	}
	fmt.Fprintf(&b, "Duration          : %s\n", FormatDuration(info.DurationSeconds))
	fmt.Fprintf(&b, "Sample Rate (Hz)  : %d\n", info.SampleRate)
	fmt.Fprintf(&b, "Channels          : %d\n", info.Channels)
	fmt.Fprintf(&b, "Codec             : %s\n", info.Codec)
	b.WriteString(rule)
	b.WriteString("\n")
	return b.String()
}

// FormatError renders a recoverable error for the menu
func FormatError(err error) string {
	return errorStyle.Render(err.Error())
}

// FormatNotice renders an informational line
func FormatNotice(msg string) string {
	return noticeStyle.Render(msg)
}

// formatClock renders a duration as MM:SS
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
