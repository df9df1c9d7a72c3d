// Package tui provides a Bubble Tea terminal user interface for booksnap.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/booksnap/booksnap/internal/event"
	"github.com/booksnap/booksnap/internal/library"
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

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	bookStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateDownloading
	StateComplete
	StateError
)

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model

	lib    *library.Library
	events chan event.Event
	ticket *library.Ticket

	title      string
	totalPages int
	donePages  int
	artifact   string
	logs       []string
	err        error

	width  int
	height int
}

// NewModel creates a TUI model over an already built library. The model
// subscribes to the library's event bus for progress.
func NewModel(lib *library.Library) Model {
	ti := textinput.New()
	ti.Placeholder = "https://www.prlib.ru/item/331483"
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	events := make(chan event.Event, 256)
	lib.Bus().Subscribe(func(ev event.Event) {
		select {
		case events <- ev:
		default: // UI fell behind, drop rather than stall the bus
		}
	})

	return Model{
		state:     StateInput,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		lib:       lib,
		events:    events,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Message types
type (
	// eventMsg carries one acquisition event from the library bus.
	eventMsg struct {
		Event event.Event
	}

	// doneMsg is sent when the requested book finishes either way.
	doneMsg struct {
		Path string
		Err  error
	}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}

		case "enter":
			if m.state == StateInput && m.textInput.Value() != "" {
				ticket, err := m.lib.GetBook(strings.TrimSpace(m.textInput.Value()))
				if err != nil {
					m.state = StateError
					m.err = err
					return m, nil
				}
				m.ticket = ticket
				m.state = StateDownloading
				return m, tea.Batch(m.waitForResult(), m.waitForEvent(), m.spinner.Tick)
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				// Reset for another book
				m.state = StateInput
				m.ticket = nil
				m.title = ""
				m.totalPages = 0
				m.donePages = 0
				m.artifact = ""
				m.logs = nil
				m.err = nil
				m.textInput.SetValue("")
				m.textInput.Focus()
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case eventMsg:
		m.applyEvent(msg.Event)
		if m.state == StateDownloading {
			var percent float64
			if m.totalPages > 0 {
				percent = float64(m.donePages) / float64(m.totalPages)
			}
			cmds = append(cmds, m.progress.SetPercent(percent), m.waitForEvent())
		}

	case doneMsg:
		if msg.Err != nil {
			m.state = StateError
			m.err = msg.Err
		} else {
			m.state = StateComplete
			m.artifact = msg.Path
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	// Update text input
	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) applyEvent(ev event.Event) {
	switch e := ev.(type) {
	case event.DataFetched:
		m.title = e.Title
		m.totalPages = e.TotalPages
		m.log(fmt.Sprintf("Found: %s (%d pages)", e.Title, e.TotalPages))
	case event.Progress:
		m.donePages++
		m.log(fmt.Sprintf("Page %d/%d staged", m.donePages, e.TotalPages))
	case event.ImagesDownloaded:
		m.log("All pages downloaded, assembling PDF...")
	case event.ArtifactReady:
		m.log(fmt.Sprintf("Saved %s", e.Path))
	}
}

func (m *Model) log(line string) {
	m.logs = append(m.logs, line)
	// Keep only last 10 logs
	if len(m.logs) > 10 {
		m.logs = m.logs[len(m.logs)-10:]
	}
}

// waitForEvent delivers the next bus event to Update.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return nil
		}
		return eventMsg{Event: ev}
	}
}

// waitForResult blocks on the ticket in the background.
func (m Model) waitForResult() tea.Cmd {
	ticket := m.ticket
	return func() tea.Msg {
		path, err := ticket.Result(context.Background())
		return doneMsg{Path: path, Err: err}
	}
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("booksnap"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Download books from online libraries"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Enter a book URL (prlib.ru or elib.shpl.ru):"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	if m.title != "" {
		b.WriteString(bookStyle.Render(m.title))
	} else {
		b.WriteString(subtitleStyle.Render("Fetching book info..."))
	}
	b.WriteString("\n\n")

	if m.totalPages > 0 {
		var percent float64
		if m.totalPages > 0 {
			percent = float64(m.donePages) / float64(m.totalPages)
		}
		b.WriteString(m.progress.ViewAs(percent))
		b.WriteString("\n")
		b.WriteString(infoStyle.Render(fmt.Sprintf("Pages: %d/%d", m.donePages, m.totalPages)))
		b.WriteString("\n\n")
	}

	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	box := boxStyle.Render(fmt.Sprintf(
		"Book ready!\n\n"+
			"Title: %s\n"+
			"Pages: %d\n"+
			"File:  %s",
		m.title,
		m.totalPages,
		m.artifact,
	))
	return box
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("Download failed:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
	}
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("Progress is saved; running again resumes where it stopped."))

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, line := range m.logs {
		b.WriteString(successStyle.Render("› " + line))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: download • esc: quit"
	case StateDownloading:
		return "ctrl+c: quit (progress is kept)"
	case StateComplete, StateError:
		return "r: another book • q: quit"
	}
	return ""
}

// Run starts the TUI application over lib.
func Run(lib *library.Library) error {
	p := tea.NewProgram(NewModel(lib), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
