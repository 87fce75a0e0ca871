// Package tui renders scheduler events, either as a Bubble Tea interface or
// as plain log lines.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/handiism/tdl/internal/model"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)
)

// maxLogs is how many finished jobs stay on screen.
const maxLogs = 10

// State represents the current UI state.
type State int

const (
	StateDownloading State = iota
	StateComplete
	StateCancelled
)

// row is the on-screen state of one job.
type row struct {
	index  int
	label  string
	bytes  int64
	total  int64
	active bool
}

// LogEntry is a finished job line.
type LogEntry struct {
	Message string
	Status  model.Status
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state    State
	spinner  spinner.Model
	progress progress.Model

	events <-chan model.Event
	cancel context.CancelFunc

	rows     map[string]*row
	logs     []LogEntry
	queued   int
	finished int
	bytes    int64
	counts   map[model.Status]int

	verbose bool
	width   int
}

// NewModel creates a model reading from events. cancel is called when the
// user quits before the run is over.
func NewModel(events <-chan model.Event, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	if cancel == nil {
		cancel = func() {}
	}

	return Model{
		state:    StateDownloading,
		spinner:  sp,
		progress: prog,
		events:   events,
		cancel:   cancel,
		rows:     make(map[string]*row),
		counts:   make(map[model.Status]int),
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// Message types
type (
	// EventMsg carries one scheduler event.
	EventMsg struct {
		Event model.Event
	}

	// DoneMsg is sent once the event channel is closed.
	DoneMsg struct{}
)

// waitForEvent blocks on the next event.
func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return DoneMsg{}
		}
		return EventMsg{Event: e}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-20, 20), 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.state == StateDownloading {
				m.cancel()
				m.state = StateCancelled
				return m, nil
			}
			return m, tea.Quit

		case "v":
			m.verbose = !m.verbose

		case "q":
			if m.state != StateDownloading {
				return m, tea.Quit
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case EventMsg:
		m.apply(msg.Event)
		var percent float64
		if m.queued > 0 {
			percent = float64(m.finished) / float64(m.queued)
		}
		cmds = append(cmds, m.progress.SetPercent(percent), m.waitForEvent())

	case DoneMsg:
		if m.state == StateDownloading {
			m.state = StateComplete
		}
		return m, tea.Quit

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// apply folds one event into the model.
func (m *Model) apply(e model.Event) {
	switch e.Type {
	case model.EventQueued:
		m.queued++
		m.rows[e.JobID] = &row{index: e.Index, label: e.Label, total: -1}

	case model.EventStarted:
		if r, ok := m.rows[e.JobID]; ok {
			r.active = true
		}

	case model.EventProgress:
		if r, ok := m.rows[e.JobID]; ok && e.Progress.Bytes >= r.bytes {
			r.bytes = e.Progress.Bytes
			r.total = e.Progress.Total
		}

	case model.EventFinished:
		m.finished++
		if r, ok := m.rows[e.JobID]; ok {
			r.active = false
		}
		if e.Result == nil {
			return
		}
		res := e.Result
		m.counts[res.Status]++
		m.bytes += res.Bytes

		msg := e.Label
		switch res.Status {
		case model.StatusFailed:
			msg = fmt.Sprintf("%s: %v", e.Label, res.Err)
		case model.StatusSucceeded, model.StatusSucceededUntagged:
			msg = fmt.Sprintf("%s (%s)", e.Label, humanize.IBytes(uint64(max(res.Bytes, 0))))
		}
		m.logs = append(m.logs, LogEntry{Message: msg, Status: res.Status})
		if len(m.logs) > maxLogs {
			m.logs = m.logs[len(m.logs)-maxLogs:]
		}
	}
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("tdl"))
	b.WriteString("\n")

	switch m.state {
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateCancelled:
		b.WriteString(warningStyle.Render("Cancelling, waiting for running jobs..."))
		b.WriteString("\n\n")
		b.WriteString(m.renderLogs())
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("Downloading %d/%d", m.finished, m.queued)))
	b.WriteString("\n\n")

	var percent float64
	if m.queued > 0 {
		percent = float64(m.finished) / float64(m.queued)
	}
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString("\n\n")

	for _, r := range m.activeRows() {
		b.WriteString(infoStyle.Render("  ♪ " + r.label))
		b.WriteString(dimStyle.Render("  " + sizeText(r.bytes, r.total)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.renderLogs())
	return b.String()
}

func (m Model) viewComplete() string {
	return boxStyle.Render(fmt.Sprintf(
		"Download complete\n\n"+
			"Downloaded: %d\n"+
			"Untagged: %d\n"+
			"Already present: %d\n"+
			"Failed: %d\n"+
			"Size: %s",
		m.counts[model.StatusSucceeded],
		m.counts[model.StatusSucceededUntagged],
		m.counts[model.StatusAlreadyExists],
		m.counts[model.StatusFailed],
		humanize.IBytes(uint64(max(m.bytes, 0))),
	))
}

func (m Model) activeRows() []*row {
	var out []*row
	for _, r := range m.rows {
		if r.active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Status {
		case model.StatusFailed:
			style = errorStyle
			prefix = "✗"
		case model.StatusSucceededUntagged:
			style = warningStyle
			prefix = "!"
		case model.StatusSucceeded:
			style = successStyle
			prefix = "✓"
		case model.StatusAlreadyExists:
			if !m.verbose {
				continue
			}
			style = dimStyle
			prefix = "="
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateDownloading:
		return "v: show skipped • esc: cancel"
	default:
		return "q: quit"
	}
}

// sizeText formats received and expected bytes.
func sizeText(bytes, total int64) string {
	if total <= 0 {
		return humanize.IBytes(uint64(max(bytes, 0)))
	}
	return fmt.Sprintf("%s / %s", humanize.IBytes(uint64(bytes)), humanize.IBytes(uint64(total)))
}

// Run shows the TUI until events is closed. Quitting early calls cancel; the
// caller is still expected to close events once its run has returned.
func Run(events <-chan model.Event, cancel context.CancelFunc) error {
	p := tea.NewProgram(NewModel(events, cancel), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
