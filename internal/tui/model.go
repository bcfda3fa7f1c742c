package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/dagrun/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneNodes PaneID = iota
	PaneGraph
)

// Controller is the operator control surface the TUI drives. The
// runner satisfies it.
type Controller interface {
	Unblock(nodeID string)
	Abort(reason string)
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	nodePane    NodePaneModel
	graphPane   GraphPaneModel
	focusedPane PaneID
	controller  Controller
	eventSub    <-chan events.Event
	width       int
	height      int
	quitting    bool
	resolved    bool
}

// New creates a new TUI model. It subscribes to all events from the
// event bus using SubscribeAll; controller may be nil for view-only use.
func New(bus *events.Bus, controller Controller) Model {
	return Model{
		nodePane:    NewNodePaneModel(),
		graphPane:   NewGraphPaneModel(),
		focusedPane: PaneNodes,
		controller:  controller,
		eventSub:    bus.SubscribeAll(256),
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), m.graphPane.Init())
}

// waitForEvent returns a command that waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyUnblock:
			if m.controller != nil {
				if id := m.nodePane.SelectedNodeID(); id != "" {
					m.controller.Unblock(id)
				}
			}

		case KeyAbort:
			if m.controller != nil {
				m.controller.Abort("operator abort")
			}

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneNodes
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneGraph
			m.updateFocusStates()

		default:
			// Delegate to focused pane
			switch m.focusedPane {
			case PaneNodes:
				var cmd tea.Cmd
				m.nodePane, cmd = m.nodePane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneGraph:
				var cmd tea.Cmd
				m.graphPane, cmd = m.graphPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.RunPhaseEvent:
		if msg.Phase == "resolved" || msg.Phase == "aborted" {
			m.resolved = true
		}
		var cmd tea.Cmd
		m.graphPane, cmd = m.graphPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.RunProgressEvent:
		var cmd tea.Cmd
		m.graphPane, cmd = m.graphPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.Event:
		// Everything else is node-level activity.
		var cmd tea.Cmd
		m.nodePane, cmd = m.nodePane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		// Spinner ticks and other component messages.
		var cmd tea.Cmd
		m.graphPane, cmd = m.graphPane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	leftPane := m.nodePane.View()
	rightPane := m.graphPane.View()

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)
	helpBar := HelpView()
	if m.resolved {
		helpBar = StyleHelp.Render("run finished | q: quit")
	}

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, helpBar)
}

// computeLayout calculates pane dimensions and updates child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1

	m.nodePane.SetSize(leftWidth, availableHeight)
	m.graphPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.nodePane.SetFocused(m.focusedPane == PaneNodes)
	m.graphPane.SetFocused(m.focusedPane == PaneGraph)
}
