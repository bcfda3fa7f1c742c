package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/dagrun/internal/events"
)

// GraphPaneModel shows run-level progress: phase, state counts and a
// proportional progress bar.
type GraphPaneModel struct {
	phase     string
	total     int
	succeeded int
	running   int
	failed    int
	pending   int
	blocked   int
	escalated int
	spinner   spinner.Model
	width     int
	height    int
	focused   bool
}

// NewGraphPaneModel creates a new graph pane model.
func NewGraphPaneModel() GraphPaneModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StyleStateRunning
	return GraphPaneModel{
		phase:   "initializing",
		spinner: sp,
	}
}

// Init starts the spinner.
func (m GraphPaneModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the graph pane.
func (m GraphPaneModel) Update(msg tea.Msg) (GraphPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case events.RunPhaseEvent:
		m.phase = msg.Phase

	case events.RunProgressEvent:
		m.total = msg.Total
		m.succeeded = msg.Succeeded
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending
		m.blocked = msg.Blocked
		m.escalated = msg.Escalated
	}

	return m, nil
}

// View renders the graph pane.
func (m GraphPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Run Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	phase := StylePhase.Render(m.phase)
	if m.phase == "running" || m.phase == "draining" {
		phase = m.spinner.View() + " " + phase
	}
	b.WriteString("Phase:     " + phase + "\n\n")

	b.WriteString(fmt.Sprintf("Total:     %d\n", m.total))
	b.WriteString(fmt.Sprintf("Succeeded: %s\n", StyleStateSucceeded.Render(fmt.Sprintf("%d", m.succeeded))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStateRunning.Render(fmt.Sprintf("%d", m.running))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStateFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString(fmt.Sprintf("Blocked:   %s\n", StyleStateBlocked.Render(fmt.Sprintf("%d", m.blocked))))
	b.WriteString(fmt.Sprintf("Escalated: %s\n", StyleStateEscalated.Render(fmt.Sprintf("%d", m.escalated))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatePending.Render(fmt.Sprintf("%d", m.pending))))

	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		doneWidth := (m.succeeded * barWidth) / m.total
		stuckWidth := ((m.failed + m.escalated) * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		restWidth := barWidth - doneWidth - stuckWidth - runningWidth

		bar := StyleStateSucceeded.Render(strings.Repeat("=", max(0, doneWidth)))
		bar += StyleStateFailed.Render(strings.Repeat("!", max(0, stuckWidth)))
		bar += StyleStateRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatePending.Render(strings.Repeat(".", max(0, restWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.succeeded, m.total))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *GraphPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *GraphPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
