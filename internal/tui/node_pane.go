package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/dagrun/internal/events"
)

// NodeView holds the display state for a single task node.
type NodeView struct {
	ID        string
	Kind      string
	State     string // lowercase node state for display
	Attempt   int
	Lines     []string // per-node activity lines, newest last
	StartTime time.Time
	Duration  time.Duration
}

// NodePaneModel shows the node list alongside a scrollable detail
// viewport for the selected node.
type NodePaneModel struct {
	nodes       map[string]*NodeView
	nodeOrder   []string // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewNodePaneModel creates a new node pane model.
func NewNodePaneModel() NodePaneModel {
	vp := viewport.New(0, 0)
	return NodePaneModel{
		nodes:    make(map[string]*NodeView),
		viewport: vp,
	}
}

// SelectedNodeID returns the ID of the currently selected node, or "".
func (m NodePaneModel) SelectedNodeID() string {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.nodeOrder) {
		return ""
	}
	return m.nodeOrder[m.selectedIdx]
}

// Update handles messages for the node pane.
func (m NodePaneModel) Update(msg tea.Msg) (NodePaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.nodeOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.NodeStartedEvent:
		n := m.node(msg.ID)
		n.Kind = msg.Kind
		n.State = "running"
		n.Attempt = msg.Attempt
		n.StartTime = msg.Timestamp
		n.append(fmt.Sprintf("started (attempt %d)", msg.Attempt))
		m.updateViewportContent()

	case events.NodeSucceededEvent:
		n := m.node(msg.ID)
		n.State = "succeeded"
		n.Duration = msg.Duration
		if msg.Output != "" {
			n.Lines = append(n.Lines, strings.Split(strings.TrimRight(msg.Output, "\n"), "\n")...)
		}
		n.append(fmt.Sprintf("succeeded in %s", msg.Duration.Round(time.Millisecond)))
		m.updateViewportContent()

	case events.NodeFailedEvent:
		n := m.node(msg.ID)
		n.State = "failed"
		n.Duration = msg.Duration
		n.append(fmt.Sprintf("failed (attempt %d): %s", msg.Attempt, msg.Reason))
		m.updateViewportContent()

	case events.NodeRetriedEvent:
		n := m.node(msg.ID)
		n.State = "pending"
		n.append(fmt.Sprintf("requeued, attempt %d of %d", msg.Attempt+1, msg.MaxAttempts))
		m.updateViewportContent()

	case events.NodeBlockedEvent:
		n := m.node(msg.ID)
		n.State = "blocked"
		n.append(fmt.Sprintf("blocked: %s (stall %d)", msg.Reason, msg.Stalls))
		m.updateViewportContent()

	case events.NodeEscalatedEvent:
		n := m.node(msg.ID)
		n.State = "escalated"
		n.append("escalated: " + msg.Reason)
		if len(msg.Frozen) > 0 {
			n.append("frozen dependents: " + strings.Join(msg.Frozen, ", "))
		}
		m.updateViewportContent()

	case events.NodeSupersededEvent:
		n := m.node(msg.ID)
		n.State = "superseded"
		n.append("superseded by " + msg.ReplacementID)
		m.updateViewportContent()

	case events.NodeAbortedEvent:
		n := m.node(msg.ID)
		n.State = "aborted"
		n.append("aborted")
		m.updateViewportContent()

	case events.NodeInjectedEvent:
		n := m.node(msg.ID)
		n.Kind = msg.Kind
		n.State = "pending"
		n.append("injected by " + msg.Origin)
		m.updateViewportContent()
	}

	return m, cmd
}

// node returns the view for id, creating it on first sight.
func (m *NodePaneModel) node(id string) *NodeView {
	if n, ok := m.nodes[id]; ok {
		return n
	}
	n := &NodeView{ID: id, State: "pending"}
	m.nodes[id] = n
	m.nodeOrder = append(m.nodeOrder, id)
	return n
}

func (n *NodeView) append(line string) {
	n.Lines = append(n.Lines, line)
}

// View renders the node list and the selected node's activity.
func (m NodePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("Nodes"))
	b.WriteString("\n")

	listHeight := m.listHeight()
	for i, id := range m.visibleNodes(listHeight) {
		n := m.nodes[id]
		cursor := "  "
		if m.nodeOrder[m.selectedIdx] == id {
			cursor = "> "
		}
		state := styleForState(n.State).Render(n.State)
		label := n.ID
		if n.Kind != "" {
			label = fmt.Sprintf("%s (%s)", n.ID, n.Kind)
		}
		b.WriteString(fmt.Sprintf("%s%-11s %s", cursor, state, label))
		if i < listHeight-1 {
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", max(0, m.width-4)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// visibleNodes returns a window of node IDs keeping the selection in view.
func (m NodePaneModel) visibleNodes(listHeight int) []string {
	if len(m.nodeOrder) <= listHeight {
		return m.nodeOrder
	}
	start := m.selectedIdx - listHeight/2
	if start < 0 {
		start = 0
	}
	if start+listHeight > len(m.nodeOrder) {
		start = len(m.nodeOrder) - listHeight
	}
	return m.nodeOrder[start : start+listHeight]
}

func (m NodePaneModel) listHeight() int {
	h := (m.height - 6) / 2
	if h < 3 {
		h = 3
	}
	return h
}

// updateViewportContent refreshes the detail viewport for the selection.
func (m *NodePaneModel) updateViewportContent() {
	id := m.SelectedNodeID()
	if id == "" {
		m.viewport.SetContent("")
		return
	}
	n := m.nodes[id]
	content := strings.Join(n.Lines, "\n")
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(content)
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *NodePaneModel) resizeViewport() {
	m.viewport.Width = m.width - 4
	m.viewport.Height = max(1, m.height-m.listHeight()-6)
	m.updateViewportContent()
}

// SetSize updates the pane dimensions.
func (m *NodePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *NodePaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
