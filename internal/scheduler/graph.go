package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// TaskGraph is a directed acyclic graph of task nodes with dependency
// edges. It owns all node state transitions; callers never mutate nodes
// directly. All methods are safe for concurrent use, though in practice
// a single scheduler goroutine performs every mutation.
type TaskGraph struct {
	mu         sync.RWMutex
	nodes      map[string]*TaskNode
	dependents map[string][]string // Maps nodeID -> IDs of nodes that depend on it
	nextSeq    int
}

// NewTaskGraph creates an empty graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{
		nodes:      make(map[string]*TaskNode),
		dependents: make(map[string][]string),
	}
}

// AddNode inserts a node into the graph. The node starts Pending and is
// assigned the next creation sequence number. Fails with DuplicateIDError
// if the ID exists, NotFoundError if a dependency is missing, and
// CycleError if the new edge set would close a cycle. On error the graph
// is left unchanged.
func (g *TaskGraph) AddNode(node *TaskNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[node.ID]; exists {
		return &DuplicateIDError{ID: node.ID}
	}
	for _, depID := range node.DependsOn {
		if _, exists := g.nodes[depID]; !exists && depID != node.ID {
			return &NotFoundError{ID: depID}
		}
	}

	if err := g.validateWith(node); err != nil {
		return &CycleError{NodeID: node.ID, Cause: err}
	}

	cp := node.Clone()
	cp.State = StatePending
	cp.Seq = g.nextSeq
	g.nextSeq++
	g.nodes[cp.ID] = cp
	for _, depID := range cp.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], cp.ID)
	}
	return nil
}

// Validate runs a topological sort over the full edge set and returns the
// order, or an error if the graph contains a cycle or a dangling edge.
func (g *TaskGraph) Validate() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortLocked(nil)
}

// validateWith checks acyclicity as if extra were already inserted.
func (g *TaskGraph) validateWith(extra *TaskNode) error {
	_, err := g.sortLocked(extra)
	return err
}

func (g *TaskGraph) sortLocked(extra *TaskNode) ([]string, error) {
	known := func(id string) bool {
		if _, exists := g.nodes[id]; exists {
			return true
		}
		return extra != nil && extra.ID == id
	}
	for id, node := range g.nodes {
		for _, depID := range node.DependsOn {
			if !known(depID) {
				return nil, fmt.Errorf("node %q depends on non-existent node %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	appendEdges := func(id string, dependsOn []string) {
		if len(dependsOn) == 0 {
			// Roots need a nil edge so the sort includes them.
			edges = append(edges, toposort.Edge{nil, id})
			return
		}
		for _, depID := range dependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}
	for id, node := range g.nodes {
		appendEdges(id, node.DependsOn)
	}
	total := len(g.nodes)
	if extra != nil {
		appendEdges(extra.ID, extra.DependsOn)
		total++
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != total {
		missing := []string{}
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for id := range g.nodes {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d nodes: %s", total-len(order), strings.Join(missing, ", "))
	}
	return order, nil
}

// ReadyNodes returns clones of all Pending nodes whose dependencies have
// all reached Succeeded (or were superseded). Ordering is deterministic:
// creation order, then ID, so scheduling is reproducible given the same
// graph and lock state.
func (g *TaskGraph) ReadyNodes() []*TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := []*TaskNode{}
	for _, node := range g.nodes {
		if node.State != StatePending {
			continue
		}
		satisfied := true
		for _, depID := range node.DependsOn {
			dep, exists := g.nodes[depID]
			if !exists || !depResolved(dep) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, node.Clone())
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Seq != ready[j].Seq {
			return ready[i].Seq < ready[j].Seq
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// depResolved reports whether a dependency counts as satisfied.
// Superseded nodes count: their dependents were re-pointed at the
// replacement atomically, so any remaining edge is from a restored
// snapshot and the replacement gate applies there.
func depResolved(dep *TaskNode) bool {
	return dep.State == StateSucceeded || dep.State == StateSuperseded
}

// IsResolved reports whether every node has reached a terminal state.
func (g *TaskGraph) IsResolved() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, node := range g.nodes {
		if !node.State.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns the number of nodes in each state.
func (g *TaskGraph) Counts() map[NodeState]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[NodeState]int)
	for _, node := range g.nodes {
		counts[node.State]++
	}
	return counts
}

// allowedTransitions is the full transition relation. Anything absent is
// an InvalidTransitionError.
var allowedTransitions = map[NodeState][]NodeState{
	StatePending: {StateReady, StateRunning, StateBlocked, StateAborted, StateSuperseded},
	StateReady:   {StateRunning, StatePending, StateBlocked, StateAborted, StateSuperseded},
	// Running -> Pending requeues nodes orphaned by a crash: a restored
	// snapshot can hold Running nodes with no executor attached.
	StateRunning: {StateSucceeded, StateFailed, StatePending, StateAborted, StateSuperseded},
	StateFailed:  {StatePending, StateBlocked, StateEscalated, StateAborted, StateSuperseded},
	StateBlocked: {StatePending, StateEscalated, StateAborted, StateSuperseded},
	// Succeeded nodes can only be superseded (interface changes re-run
	// completed work against the new contract).
	StateSucceeded: {StateSuperseded},
}

func transitionAllowed(from, to NodeState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition applies a validated state change plus an optional mutation
// under the write lock.
func (g *TaskGraph) transition(id string, to NodeState, mutate func(n *TaskNode)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, exists := g.nodes[id]
	if !exists {
		return &NotFoundError{ID: id}
	}
	if !transitionAllowed(node.State, to) {
		return &InvalidTransitionError{ID: id, From: node.State, To: to}
	}
	node.State = to
	if mutate != nil {
		mutate(node)
	}
	return nil
}

// MarkReady transitions a Pending node to Ready.
func (g *TaskGraph) MarkReady(id string) error {
	return g.transition(id, StateReady, nil)
}

// MarkRunning transitions a node to Running and counts the attempt.
func (g *TaskGraph) MarkRunning(id string) error {
	return g.transition(id, StateRunning, func(n *TaskNode) {
		n.Attempt++
	})
}

// MarkSucceeded records a successful execution result.
func (g *TaskGraph) MarkSucceeded(id string, res Result) error {
	return g.transition(id, StateSucceeded, func(n *TaskNode) {
		res.Success = true
		n.Result = &res
	})
}

// MarkFailed records a failed execution result. The node stays in Failed
// until the retry policy requeues or escalates it.
func (g *TaskGraph) MarkFailed(id string, res Result) error {
	return g.transition(id, StateFailed, func(n *TaskNode) {
		res.Success = false
		n.Result = &res
	})
}

// MarkBlocked holds a node back pending an external condition.
func (g *TaskGraph) MarkBlocked(id, reason string) error {
	return g.transition(id, StateBlocked, func(n *TaskNode) {
		n.BlockReason = reason
	})
}

// MarkEscalated terminally fails a node after retries or stalls are
// exhausted. Dependents are not touched here; the scheduler freezes them.
func (g *TaskGraph) MarkEscalated(id, reason string) error {
	return g.transition(id, StateEscalated, func(n *TaskNode) {
		n.BlockReason = reason
	})
}

// MarkAborted terminally cancels a node without execution.
func (g *TaskGraph) MarkAborted(id string) error {
	return g.transition(id, StateAborted, nil)
}

// Requeue returns a Failed, Blocked, or Ready node to Pending so the
// scheduler picks it up on a later tick.
func (g *TaskGraph) Requeue(id string) error {
	return g.transition(id, StatePending, func(n *TaskNode) {
		n.BlockReason = ""
	})
}

// RecordStall increments the node's stall counter and returns the new
// value. Used when repeated BLOCKER signals target the same node.
func (g *TaskGraph) RecordStall(id string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, exists := g.nodes[id]
	if !exists {
		return 0, &NotFoundError{ID: id}
	}
	node.StallCount++
	return node.StallCount, nil
}

// Supersede atomically replaces oldID with replacement. The old node
// becomes terminal (Superseded) and every node that depended on it is
// re-pointed at the replacement, so no caller ever observes a graph where
// the dependency vanished without a substitute. Fails without mutating
// the graph if the replacement would duplicate an ID or close a cycle.
func (g *TaskGraph) Supersede(oldID string, replacement *TaskNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	old, exists := g.nodes[oldID]
	if !exists {
		return &NotFoundError{ID: oldID}
	}
	if _, exists := g.nodes[replacement.ID]; exists {
		return &DuplicateIDError{ID: replacement.ID}
	}
	if !transitionAllowed(old.State, StateSuperseded) {
		return &InvalidTransitionError{ID: oldID, From: old.State, To: StateSuperseded}
	}
	for _, depID := range replacement.DependsOn {
		if _, exists := g.nodes[depID]; !exists {
			return &NotFoundError{ID: depID}
		}
	}

	// Cycle check on the candidate graph: replacement inserted and every
	// dependent edge re-pointed to it.
	var edges []toposort.Edge
	for id, node := range g.nodes {
		deps := node.DependsOn
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps {
			if depID == oldID && id != replacement.ID {
				depID = replacement.ID
			}
			edges = append(edges, toposort.Edge{depID, id})
		}
	}
	if len(replacement.DependsOn) == 0 {
		edges = append(edges, toposort.Edge{nil, replacement.ID})
	} else {
		for _, depID := range replacement.DependsOn {
			edges = append(edges, toposort.Edge{depID, replacement.ID})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return &CycleError{NodeID: replacement.ID, Cause: err}
	}

	cp := replacement.Clone()
	cp.State = StatePending
	cp.Seq = g.nextSeq
	g.nextSeq++
	g.nodes[cp.ID] = cp
	for _, depID := range cp.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], cp.ID)
	}

	old.State = StateSuperseded
	old.SupersededBy = cp.ID

	// Re-point dependents of the old node at the replacement.
	for _, depID := range g.dependents[oldID] {
		dependent := g.nodes[depID]
		for i, d := range dependent.DependsOn {
			if d == oldID {
				dependent.DependsOn[i] = cp.ID
			}
		}
		g.dependents[cp.ID] = append(g.dependents[cp.ID], depID)
	}
	delete(g.dependents, oldID)

	return nil
}

// Dependents returns the IDs of nodes that directly depend on id.
func (g *TaskGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[id]...)
}

// TransitiveDependents returns every node downstream of id, breadth
// first. Used to freeze the dependent subgraph when a node escalates.
func (g *TaskGraph) TransitiveDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{}
	var out []string
	queue := append([]string(nil), g.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, g.dependents[next]...)
	}
	return out
}

// Get returns a clone of the node by ID.
func (g *TaskGraph) Get(id string) (*TaskNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, exists := g.nodes[id]
	if !exists {
		return nil, false
	}
	return node.Clone(), true
}

// Nodes returns clones of all nodes in creation order.
func (g *TaskGraph) Nodes() []*TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*TaskNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Seq < nodes[j].Seq })
	return nodes
}

// Restore rebuilds a graph from persisted nodes, preserving states,
// attempts, and sequence numbers exactly. The acyclicity invariant is
// still enforced.
func (g *TaskGraph) Restore(nodes []*TaskNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]*TaskNode, len(nodes))
	g.dependents = make(map[string][]string)
	g.nextSeq = 0
	for _, node := range nodes {
		if _, exists := g.nodes[node.ID]; exists {
			return &DuplicateIDError{ID: node.ID}
		}
		cp := node.Clone()
		g.nodes[cp.ID] = cp
		for _, depID := range cp.DependsOn {
			g.dependents[depID] = append(g.dependents[depID], cp.ID)
		}
		if cp.Seq >= g.nextSeq {
			g.nextSeq = cp.Seq + 1
		}
	}
	if _, err := g.sortLocked(nil); err != nil {
		return fmt.Errorf("restored graph is invalid: %w", err)
	}
	return nil
}
