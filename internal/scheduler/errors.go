package scheduler

import "fmt"

// CycleError is returned when adding a node or edge would make the
// dependency relation cyclic. The graph is left unchanged.
type CycleError struct {
	NodeID string
	Cause  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("adding node %q would create a cycle: %v", e.NodeID, e.Cause)
}

func (e *CycleError) Unwrap() error { return e.Cause }

// DuplicateIDError is returned when a node ID is already present.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("node with ID %q already exists", e.ID)
}

// NotFoundError is returned when an operation references an unknown node.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", e.ID)
}

// InvalidTransitionError is returned when a state transition is not
// permitted from the node's current state. Surfaced, never swallowed.
type InvalidTransitionError struct {
	ID   string
	From NodeState
	To   NodeState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("node %q: invalid transition %s -> %s", e.ID, e.From, e.To)
}
