package host

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/pglt-supervisor/internal/lifecycle"
	"github.com/dshills/pglt-supervisor/internal/project"
)

// StatusText is the fixed label of the indicator.
const StatusText = "PGLT"

// Status is a snapshot of the status indicator.
type Status struct {
	State   lifecycle.State
	Text    string
	Icon    string
	Tooltip string
	Version string
	Visible bool
}

// Label joins icon, text and version the way the indicator shows them.
func (s Status) Label() string {
	return strings.TrimSpace(strings.Join([]string{s.Icon, s.Text, s.Version}, " "))
}

var (
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	stoppedStyle = lipgloss.NewStyle().Faint(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// Render returns the styled label, or "" when the indicator is hidden.
func (s Status) Render() string {
	if !s.Visible {
		return ""
	}
	style := busyStyle
	switch s.State {
	case lifecycle.StateStarted:
		style = runningStyle
	case lifecycle.StateStopped:
		style = stoppedStyle
	case lifecycle.StateError:
		style = failedStyle
	}
	return style.Render(s.Label())
}

// Status computes the indicator. It is visible only when a project is
// active, pglt is enabled for it, and a SQL document has focus.
func (h *Host) Status() Status {
	state := h.lc.State()
	st := Status{
		State:   state,
		Text:    StatusText,
		Icon:    stateIcon(state),
		Tooltip: stateTooltip(state),
	}
	if s := h.lc.ActiveSession(); s != nil && s.Worker != nil {
		st.Version = s.ServerVersion()
	}

	enabled := h.lc.Project() != nil && project.Enabled(h.settings)
	st.Visible = enabled && !h.Hidden()
	return st
}

func stateTooltip(s lifecycle.State) string {
	switch s {
	case lifecycle.StateInitializing:
		return "Initializing"
	case lifecycle.StateStarting:
		return "Starting"
	case lifecycle.StateRestarting:
		return "Restarting"
	case lifecycle.StateStarted:
		return "Up and running"
	case lifecycle.StateStopping:
		return "Stopping"
	case lifecycle.StateStopped:
		return "Stopped"
	case lifecycle.StateError:
		return "Error"
	default:
		return ""
	}
}

func stateIcon(s lifecycle.State) string {
	switch {
	case s.Transitional():
		return "⟳"
	case s == lifecycle.StateStarted:
		return "✓"
	case s == lifecycle.StateStopped:
		return "✗"
	case s == lifecycle.StateError:
		return "!"
	default:
		return "?"
	}
}
