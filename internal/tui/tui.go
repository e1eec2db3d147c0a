package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/timzifer/hemlarm/service"
)

const defaultRedraw = time.Second

// Controller is the part of a dashboard session the terminal view drives.
type Controller interface {
	Snapshot() service.Snapshot
	ToggleAlarm(id string)
	NextPage()
	PrevPage()
	ClearLogs()
	ClearDevices()
	RefreshDevices()
	RefreshLogs()
}

const (
	colorForeground = "#F8F8F2"
	colorComment    = "#6272A4"
	colorCyan       = "#8BE9FD"
	colorGreen      = "#50FA7B"
	colorPink       = "#FF79C6"
	colorRed        = "#FF5555"
	colorYellow     = "#F1FA8C"
)

type styles struct {
	title, heading, cursor, active, inactive, pending, empty, help, diag, provisional lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorPink)),
		heading:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorCyan)),
		cursor:      lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		active:      lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		inactive:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
		pending:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorComment)),
		empty:       lipgloss.NewStyle().Foreground(lipgloss.Color(colorComment)),
		help:        lipgloss.NewStyle().Foreground(lipgloss.Color(colorComment)),
		diag:        lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		provisional: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color(colorForeground)),
	}
}

type redrawMsg time.Time

// Model renders a session snapshot and maps keys to session commands.
type Model struct {
	ctrl     Controller
	redraw   time.Duration
	snapshot service.Snapshot
	cursor   int
	styles   styles
	status   string
}

// NewModel creates a model redrawing at the given interval.
func NewModel(ctrl Controller, redraw time.Duration) *Model {
	if redraw <= 0 {
		redraw = defaultRedraw
	}
	m := &Model{ctrl: ctrl, redraw: redraw, styles: newStyles()}
	m.snapshot = ctrl.Snapshot()
	return m
}

func (m *Model) scheduleRedraw() tea.Cmd {
	return tea.Tick(m.redraw, func(t time.Time) tea.Msg { return redrawMsg(t) })
}

// Init starts the redraw timer.
func (m *Model) Init() tea.Cmd {
	return m.scheduleRedraw()
}

// Update handles key presses and redraw ticks.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case redrawMsg:
		m.refresh()
		return m, m.scheduleRedraw()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snapshot.Devices)-1 {
			m.cursor++
		}
	case "enter", " ":
		if m.cursor < len(m.snapshot.Devices) {
			device := m.snapshot.Devices[m.cursor]
			m.ctrl.ToggleAlarm(device.ID)
			m.status = "toggling " + device.Name
		}
	case "right", "n":
		m.ctrl.NextPage()
	case "left", "p":
		m.ctrl.PrevPage()
	case "c":
		m.ctrl.ClearLogs()
		m.status = "clearing logs"
	case "X":
		m.ctrl.ClearDevices()
		m.status = "clearing devices"
	case "r":
		m.ctrl.RefreshDevices()
		m.ctrl.RefreshLogs()
		m.status = "refreshing"
	default:
		return m, nil
	}
	m.refresh()
	return m, nil
}

func (m *Model) refresh() {
	m.snapshot = m.ctrl.Snapshot()
	if m.cursor >= len(m.snapshot.Devices) {
		m.cursor = len(m.snapshot.Devices) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// View renders the dashboard.
func (m *Model) View() string {
	var b strings.Builder
	st := m.styles

	b.WriteString(st.title.Render("IoT Alarm Dashboard"))
	b.WriteString("\n\n")

	b.WriteString(st.heading.Render("Connected Devices"))
	b.WriteString("\n")
	if len(m.snapshot.Devices) == 0 {
		b.WriteString(st.empty.Render("No devices connected"))
		b.WriteString("\n")
	}
	for i, device := range m.snapshot.Devices {
		marker := "  "
		if i == m.cursor {
			marker = st.cursor.Render("> ")
		}
		state := st.inactive.Render("off")
		if device.IsActive {
			state = st.active.Render("ON ")
		}
		line := fmt.Sprintf("%s[%s] %s", marker, state, device.Name)
		if device.Status != "" {
			line += " (" + string(device.Status) + ")"
		}
		if device.Pending {
			line += " " + st.pending.Render("…")
		}
		b.WriteString(line + "\n")
	}
	if m.snapshot.HiddenDevices > 0 {
		b.WriteString(st.help.Render(fmt.Sprintf("%d hidden by filter", m.snapshot.HiddenDevices)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(st.heading.Render(fmt.Sprintf("Activity Log (page %d)", m.snapshot.Logs.Page)))
	b.WriteString("\n")
	if len(m.snapshot.Logs.Entries) == 0 {
		b.WriteString(st.empty.Render("No activity recorded"))
		b.WriteString("\n")
	}
	for _, entry := range m.snapshot.Logs.Entries {
		line := fmt.Sprintf("%s - %s", entry.Timestamp, entry.Message)
		if entry.Provisional {
			line = st.provisional.Render(line)
		}
		b.WriteString(line + "\n")
	}

	if len(m.snapshot.Diagnostics) > 0 {
		last := m.snapshot.Diagnostics[0]
		b.WriteString("\n")
		b.WriteString(st.diag.Render(fmt.Sprintf("%s failed (%s): %s", last.Operation, last.Kind, last.Message)))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString("\n" + st.help.Render(m.status) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(st.help.Render("↑/↓ select • enter toggle • ←/→ page • c clear logs • X clear devices • r refresh • q quit"))
	return b.String()
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, redraw time.Duration) error {
	p := tea.NewProgram(NewModel(ctrl, redraw), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
