package scheduler

// NodeState represents the lifecycle state of a task node.
type NodeState int

const (
	StatePending    NodeState = iota // Waiting for dependencies or a free slot
	StateReady                       // Dependencies resolved, not yet dispatched
	StateRunning                     // Currently executing
	StateSucceeded                   // Finished successfully
	StateFailed                      // Finished with error, retry not yet decided
	StateBlocked                     // Held back by an external blocking condition
	StateEscalated                   // Retries exhausted, surfaced to the operator
	StateSuperseded                  // Replaced by a newer node, terminal
	StateAborted                     // Run aborted before or during execution
)

// String returns the lowercase name of the state.
func (s NodeState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateBlocked:
		return "blocked"
	case StateEscalated:
		return "escalated"
	case StateSuperseded:
		return "superseded"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Terminal reports whether the state is final for the node.
// Failed is not terminal: it awaits a retry/escalate decision.
func (s NodeState) Terminal() bool {
	switch s {
	case StateSucceeded, StateEscalated, StateSuperseded, StateAborted:
		return true
	}
	return false
}

// Result holds the structured outcome of a node's last execution attempt.
type Result struct {
	Success bool
	Output  string // Free-text executor output, scanned for control tags
	Reason  string // Failure reason if Success is false
}

// TaskNode is a unit of work in the graph.
// Resources is fixed at creation; changing a node's resource footprint
// requires superseding it with a new node.
type TaskNode struct {
	ID           string
	Kind         string   // Executor capability tag (e.g. "build", "test", "review")
	Payload      string   // Opaque work description handed to the executor
	Resources    []string // Resource identifiers this node writes exclusively
	DependsOn    []string // Node IDs that must succeed first
	State        NodeState
	Attempt      int // Execution attempts so far
	StallCount   int // Consecutive BLOCKER signals observed
	Result       *Result
	BlockReason  string
	SupersededBy string // ID of the replacement node, if superseded
	Seq          int    // Creation order within the graph, assigned by AddNode
}

// Clone returns a deep copy of the node.
func (n *TaskNode) Clone() *TaskNode {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Resources != nil {
		cp.Resources = append([]string(nil), n.Resources...)
	}
	if n.DependsOn != nil {
		cp.DependsOn = append([]string(nil), n.DependsOn...)
	}
	if n.Result != nil {
		res := *n.Result
		cp.Result = &res
	}
	return &cp
}
