package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	NodeID() string
}

// Topic constants
const (
	TopicNode = "node"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeNodeStarted    = "node.started"
	EventTypeNodeSucceeded  = "node.succeeded"
	EventTypeNodeFailed     = "node.failed"
	EventTypeNodeRetried    = "node.retried"
	EventTypeNodeBlocked    = "node.blocked"
	EventTypeNodeEscalated  = "node.escalated"
	EventTypeNodeSuperseded = "node.superseded"
	EventTypeNodeAborted    = "node.aborted"
	EventTypeNodeInjected   = "node.injected"
	EventTypeMessageRouted  = "message.routed"
	EventTypeRunPhase       = "run.phase"
	EventTypeRunProgress    = "run.progress"
)

// NodeStartedEvent is published when a node is dispatched to an executor.
type NodeStartedEvent struct {
	ID        string
	Kind      string
	Attempt   int
	Timestamp time.Time
}

func (e NodeStartedEvent) EventType() string { return EventTypeNodeStarted }
func (e NodeStartedEvent) NodeID() string    { return e.ID }

// NodeSucceededEvent is published when a node completes successfully.
type NodeSucceededEvent struct {
	ID        string
	Output    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e NodeSucceededEvent) EventType() string { return EventTypeNodeSucceeded }
func (e NodeSucceededEvent) NodeID() string    { return e.ID }

// NodeFailedEvent is published when an execution attempt fails.
type NodeFailedEvent struct {
	ID        string
	Reason    string
	Attempt   int
	Duration  time.Duration
	Timestamp time.Time
}

func (e NodeFailedEvent) EventType() string { return EventTypeNodeFailed }
func (e NodeFailedEvent) NodeID() string    { return e.ID }

// NodeRetriedEvent is published when a failed node is requeued.
type NodeRetriedEvent struct {
	ID          string
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
}

func (e NodeRetriedEvent) EventType() string { return EventTypeNodeRetried }
func (e NodeRetriedEvent) NodeID() string    { return e.ID }

// NodeBlockedEvent is published when a node is held back by a blocker.
type NodeBlockedEvent struct {
	ID        string
	Reason    string
	Stalls    int
	Timestamp time.Time
}

func (e NodeBlockedEvent) EventType() string { return EventTypeNodeBlocked }
func (e NodeBlockedEvent) NodeID() string    { return e.ID }

// NodeEscalatedEvent is published when a node terminally fails after
// exhausting retries or stalling past the threshold.
type NodeEscalatedEvent struct {
	ID        string
	Reason    string
	Frozen    []string // Dependent nodes frozen by the escalation
	Timestamp time.Time
}

func (e NodeEscalatedEvent) EventType() string { return EventTypeNodeEscalated }
func (e NodeEscalatedEvent) NodeID() string    { return e.ID }

// NodeSupersededEvent is published when a node is replaced.
type NodeSupersededEvent struct {
	ID            string
	ReplacementID string
	Timestamp     time.Time
}

func (e NodeSupersededEvent) EventType() string { return EventTypeNodeSuperseded }
func (e NodeSupersededEvent) NodeID() string    { return e.ID }

// NodeAbortedEvent is published when a node is cancelled without running.
type NodeAbortedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e NodeAbortedEvent) EventType() string { return EventTypeNodeAborted }
func (e NodeAbortedEvent) NodeID() string    { return e.ID }

// NodeInjectedEvent is published when message routing adds a node mid-run.
type NodeInjectedEvent struct {
	ID        string
	Kind      string
	Origin    string // Node whose output caused the injection
	Timestamp time.Time
}

func (e NodeInjectedEvent) EventType() string { return EventTypeNodeInjected }
func (e NodeInjectedEvent) NodeID() string    { return e.ID }

// MessageRoutedEvent is published for every control message routed.
type MessageRoutedEvent struct {
	Origin    string
	Type      string
	Target    string
	Timestamp time.Time
}

func (e MessageRoutedEvent) EventType() string { return EventTypeMessageRouted }
func (e MessageRoutedEvent) NodeID() string    { return e.Origin }

// RunPhaseEvent is published when the run as a whole changes phase.
type RunPhaseEvent struct {
	Phase     string
	Reason    string
	Timestamp time.Time
}

func (e RunPhaseEvent) EventType() string { return EventTypeRunPhase }
func (e RunPhaseEvent) NodeID() string    { return "" }

// RunProgressEvent is published after every processed completion.
type RunProgressEvent struct {
	Total     int
	Succeeded int
	Running   int
	Failed    int
	Pending   int
	Blocked   int
	Escalated int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) NodeID() string    { return "" }
