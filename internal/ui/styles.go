package ui

import (
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/room"
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary    = lipgloss.Color("#22d3ee") // Cyan accent
	Secondary  = lipgloss.Color("#7C3AED") // Violet
	Success    = lipgloss.Color("#10B981") // Emerald
	Warning    = lipgloss.Color("#F59E0B") // Amber
	Error      = lipgloss.Color("#EF4444") // Red
	Muted      = lipgloss.Color("#6B7280") // Gray
	Foreground = lipgloss.Color("#F9FAFB") // Light gray
)

// Text styles
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	// SpeakerStyle highlights the active speaker in the peer list.
	SpeakerStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Background(Secondary).
			Padding(0, 1).
			Bold(true)

	StatusStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Background(Primary).
			Padding(0, 1).
			Bold(true)
)

// Layout styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 2).
			MarginBottom(1)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary).
			MarginTop(1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(Muted).
			MarginTop(1)
)

var SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)

const (
	IconCall    = "📞"
	IconMic     = "🎤"
	IconMuted   = "🔇"
	IconWebcam  = "📷"
	IconChat    = "💬"
	IconPeer    = "👤"
	IconSpeaker = "🔊"
	IconPaused  = "⏸"
	IconPlaying = "▶"
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconRoom    = "🚪"
)

// stateStyle picks the badge style for a session state.
func stateStyle(s room.State) lipgloss.Style {
	switch s {
	case room.StateJoined:
		return StatusStyle.Background(Success)
	case room.StateFailed, room.StateClosed:
		return StatusStyle.Background(Error)
	case room.StateConnecting, room.StateEntering:
		return StatusStyle.Background(Warning)
	default:
		return StatusStyle.Background(Muted)
	}
}

// noticeLine renders a notice with its severity icon.
func noticeLine(n room.Notice) string {
	switch n.Severity {
	case room.SeverityError:
		return fmt.Sprintf("%s %s", IconError, ErrorStyle.Render(n.Message))
	case room.SeverityWarning:
		return fmt.Sprintf("%s %s", IconWarning, WarningStyle.Render(n.Message))
	default:
		return fmt.Sprintf("%s %s", IconInfo, n.Message)
	}
}

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}
