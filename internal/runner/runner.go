package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/dagrun/internal/events"
	"github.com/aristath/dagrun/internal/executor"
	"github.com/aristath/dagrun/internal/scheduler"
)

// Phase is the state of the run as a whole.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseRunning
	PhaseDraining // Everything dispatched, awaiting completions
	PhaseResolved
	PhaseAborted
)

// String returns the lowercase name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseResolved:
		return "resolved"
	case PhaseAborted:
		return "aborted"
	}
	return "unknown"
}

// Config configures the runner.
type Config struct {
	Concurrency int           // Max concurrent executors (default 4)
	NodeTimeout time.Duration // Per-dispatch timeout; 0 disables
	Retry       RetryConfig   // Backoff for transient dispatch faults
}

// completion carries one executor result back into the serialized loop.
type completion struct {
	nodeID  string
	result  executor.Result
	err     error // Infrastructure error or cancellation, not a work failure
	started time.Time
}

// Runner drives the scheduling loop: it collects ready nodes, acquires
// resource locks, dispatches to executors concurrently, and processes
// completions strictly one at a time. The runner goroutine is the only
// writer of graph and lock state; executors just send results back.
type Runner struct {
	cfg      Config
	graph    *scheduler.TaskGraph
	locks    *scheduler.ResourceLockTable
	policy   *scheduler.RetryPolicy
	router   *scheduler.MessageRouter
	registry *executor.Registry
	bus      *events.Bus
	breakers *BreakerRegistry

	control chan controlRequest

	mu    sync.Mutex
	phase Phase
}

// New creates a runner over an assembled graph.
func New(cfg Config, graph *scheduler.TaskGraph, locks *scheduler.ResourceLockTable, policy *scheduler.RetryPolicy, router *scheduler.MessageRouter, registry *executor.Registry, bus *events.Bus) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Runner{
		cfg:      cfg,
		graph:    graph,
		locks:    locks,
		policy:   policy,
		router:   router,
		registry: registry,
		bus:      bus,
		breakers: NewBreakerRegistry(),
		control:  make(chan controlRequest, 16),
		phase:    PhaseInitializing,
	}
}

// Phase returns the current run phase.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Status returns a snapshot of every node's state.
func (r *Runner) Status() []*scheduler.TaskNode {
	return r.graph.Nodes()
}

// Run executes the graph until it is fully resolved, the context is
// cancelled, or an abort is requested. Returns nil on a resolved run
// (escalated branches included; escalation is terminal for a node, not
// for the run) and an error on abort.
func (r *Runner) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.requeueOrphans()
	r.setPhase(PhaseRunning, "")

	g := new(errgroup.Group)
	defer g.Wait()

	results := make(chan completion)
	inFlight := 0
	aborting := false
	abortReason := ""
	// Nilled after the first fire so the select blocks on completions
	// instead of re-selecting the closed channel while stragglers drain.
	done := ctx.Done()

	for {
		if !aborting {
			inFlight += r.dispatchReady(runCtx, g, results, inFlight)
		}

		if inFlight == 0 {
			if aborting {
				r.abortRemaining()
				r.setPhase(PhaseAborted, abortReason)
				return fmt.Errorf("run aborted: %s", abortReason)
			}
			if r.graph.IsResolved() {
				r.setPhase(PhaseResolved, "")
				return nil
			}
			if len(r.graph.ReadyNodes()) > 0 {
				// Ready work exists with free slots and no held locks;
				// dispatch again immediately.
				continue
			}
			// Nothing running, nothing ready: the remaining nodes are
			// blocked or frozen behind an escalation. Wait for the
			// operator to unblock or abort.
			select {
			case req := <-r.control:
				aborting, abortReason = r.handleControl(req, aborting, abortReason, cancel)
			case <-done:
				done = nil
				aborting, abortReason = true, "context cancelled"
				r.abortRemaining()
			}
			continue
		}

		r.updateDrainPhase(aborting, inFlight)

		select {
		case c := <-results:
			inFlight--
			r.handleCompletion(c, aborting)
			r.publishProgress()
		case req := <-r.control:
			aborting, abortReason = r.handleControl(req, aborting, abortReason, cancel)
		case <-done:
			done = nil
			if !aborting {
				aborting, abortReason = true, "context cancelled"
				cancel()
				r.abortRemaining()
			}
		}
	}
}

// requeueOrphans returns Running and Ready nodes to Pending. A graph
// fresh from a snapshot can contain Running nodes whose executors died
// with the previous process.
func (r *Runner) requeueOrphans() {
	for _, node := range r.graph.Nodes() {
		if node.State == scheduler.StateRunning || node.State == scheduler.StateReady {
			r.locks.Release(node.ID)
			if err := r.graph.Requeue(node.ID); err != nil {
				log.Printf("WARNING: failed to requeue orphaned node %q: %v", node.ID, err)
			}
		}
	}
}

// dispatchReady claims locks, marks each claimed node Ready, and
// launches executors for as many of them as the concurrency limit
// allows. Nodes that fail lock acquisition stay Pending and are
// re-attempted on the next tick; lock conflicts are transient, never
// surfaced as failures.
func (r *Runner) dispatchReady(ctx context.Context, g *errgroup.Group, results chan<- completion, inFlight int) int {
	dispatched := 0
	for _, node := range r.graph.ReadyNodes() {
		if inFlight+dispatched >= r.cfg.Concurrency {
			break
		}
		if !r.locks.TryAcquire(node.ID, node.Resources) {
			continue
		}
		if err := r.graph.MarkReady(node.ID); err != nil {
			r.locks.Release(node.ID)
			log.Printf("WARNING: failed to mark node %q ready: %v", node.ID, err)
			continue
		}

		exec, err := r.registry.Lookup(node.Kind)
		if err != nil {
			r.locks.Release(node.ID)
			// Operator-resolvable configuration gap: hold the node
			// rather than failing the branch.
			if blockErr := r.graph.MarkBlocked(node.ID, err.Error()); blockErr != nil {
				log.Printf("WARNING: failed to block node %q: %v", node.ID, blockErr)
			}
			r.bus.Publish(events.TopicNode, events.NodeBlockedEvent{
				ID: node.ID, Reason: err.Error(), Timestamp: time.Now(),
			})
			continue
		}

		if err := r.graph.MarkRunning(node.ID); err != nil {
			r.locks.Release(node.ID)
			log.Printf("WARNING: failed to mark node %q running: %v", node.ID, err)
			if err := r.graph.Requeue(node.ID); err != nil {
				log.Printf("WARNING: failed to requeue node %q: %v", node.ID, err)
			}
			continue
		}

		node := node
		attempt := node.Attempt + 1
		started := time.Now()
		r.bus.Publish(events.TopicNode, events.NodeStartedEvent{
			ID: node.ID, Kind: node.Kind, Attempt: attempt, Timestamp: started,
		})

		g.Go(func() error {
			res, execErr := r.execute(ctx, exec, node, attempt)
			results <- completion{nodeID: node.ID, result: res, err: execErr, started: started}
			return nil
		})
		dispatched++
	}
	return dispatched
}

// execute runs one attempt with the per-node timeout and the resilience
// wrapper (backoff plus circuit breaker) around the executor call.
func (r *Runner) execute(ctx context.Context, exec executor.Executor, node *scheduler.TaskNode, attempt int) (executor.Result, error) {
	if r.cfg.NodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.NodeTimeout)
		defer cancel()
	}

	req := executor.Request{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Payload:   node.Payload,
		Resources: node.Resources,
		Attempt:   attempt,
	}
	return dispatchWithRetry(ctx, exec, req, r.breakers.Get(node.Kind), r.cfg.Retry)
}

// handleCompletion processes one executor result. Runs on the loop
// goroutine, so graph and lock mutations are serialized.
func (r *Runner) handleCompletion(c completion, aborting bool) {
	r.locks.Release(c.nodeID)

	node, exists := r.graph.Get(c.nodeID)
	if !exists {
		return
	}
	// A node superseded mid-flight had its replacement queued already;
	// the stale result is discarded.
	if node.State == scheduler.StateSuperseded {
		return
	}

	if c.err != nil {
		if errors.Is(c.err, context.Canceled) || aborting {
			if err := r.graph.MarkAborted(c.nodeID); err != nil {
				log.Printf("WARNING: failed to abort node %q: %v", c.nodeID, err)
			}
			r.bus.Publish(events.TopicNode, events.NodeAbortedEvent{ID: c.nodeID, Timestamp: time.Now()})
			return
		}
		// Timeouts and exhausted dispatch retries are execution
		// failures: they flow through the retry policy like any other.
		c.result = executor.Result{Success: false, ErrorReason: c.err.Error()}
	}

	if c.result.Success {
		if err := r.graph.MarkSucceeded(c.nodeID, scheduler.Result{Output: c.result.Output}); err != nil {
			log.Printf("WARNING: failed to mark node %q succeeded: %v", c.nodeID, err)
			return
		}
		r.bus.Publish(events.TopicNode, events.NodeSucceededEvent{
			ID: c.nodeID, Output: c.result.Output,
			Duration: time.Since(c.started), Timestamp: time.Now(),
		})
		r.routeMessages(c.nodeID, c.result.Output)
		return
	}

	if err := r.graph.MarkFailed(c.nodeID, scheduler.Result{Output: c.result.Output, Reason: c.result.ErrorReason}); err != nil {
		log.Printf("WARNING: failed to mark node %q failed: %v", c.nodeID, err)
		return
	}
	r.bus.Publish(events.TopicNode, events.NodeFailedEvent{
		ID: c.nodeID, Reason: c.result.ErrorReason, Attempt: node.Attempt,
		Duration: time.Since(c.started), Timestamp: time.Now(),
	})

	// Output of failed attempts is still parsed: a BLOCKER tag explains
	// the failure and holds the node instead of burning retries.
	r.routeMessages(c.nodeID, c.result.Output)

	node, exists = r.graph.Get(c.nodeID)
	if !exists || node.State != scheduler.StateFailed {
		return
	}

	switch r.policy.OnFailure(node) {
	case scheduler.DecisionRetry:
		if err := r.graph.Requeue(c.nodeID); err != nil {
			log.Printf("WARNING: failed to requeue node %q: %v", c.nodeID, err)
			return
		}
		r.bus.Publish(events.TopicNode, events.NodeRetriedEvent{
			ID: c.nodeID, Attempt: node.Attempt,
			MaxAttempts: r.policy.MaxAttempts(node.Kind), Timestamp: time.Now(),
		})
	case scheduler.DecisionEscalate:
		r.escalate(c.nodeID, fmt.Sprintf("failed %d of %d attempts: %s",
			node.Attempt, r.policy.MaxAttempts(node.Kind), c.result.ErrorReason))
	}
}

// escalate terminally fails a node and freezes its dependent subgraph.
// Unrelated branches keep running.
func (r *Runner) escalate(nodeID, reason string) {
	if err := r.graph.MarkEscalated(nodeID, reason); err != nil {
		log.Printf("WARNING: failed to escalate node %q: %v", nodeID, err)
		return
	}

	var frozen []string
	for _, depID := range r.graph.TransitiveDependents(nodeID) {
		dep, exists := r.graph.Get(depID)
		if !exists || dep.State != scheduler.StatePending {
			continue
		}
		if err := r.graph.MarkBlocked(depID, fmt.Sprintf("upstream node %s escalated", nodeID)); err != nil {
			log.Printf("WARNING: failed to freeze dependent %q: %v", depID, err)
			continue
		}
		frozen = append(frozen, depID)
	}

	r.bus.Publish(events.TopicNode, events.NodeEscalatedEvent{
		ID: nodeID, Reason: reason, Frozen: frozen, Timestamp: time.Now(),
	})
}

// routeMessages extracts and routes control tags from a completed
// node's output, in extraction order. Routing failures are logged, not
// fatal: a malformed tag must not take down the run.
func (r *Runner) routeMessages(origin, output string) {
	for _, msg := range scheduler.Extract(origin, output) {
		effect, err := r.router.Route(msg)
		if err != nil {
			log.Printf("WARNING: routing %s message from %q: %v", msg.Type, origin, err)
		}
		r.bus.Publish(events.TopicNode, events.MessageRoutedEvent{
			Origin: origin, Type: string(msg.Type), Target: msg.Target, Timestamp: time.Now(),
		})
		if effect.CreatedID != "" {
			r.bus.Publish(events.TopicNode, events.NodeInjectedEvent{
				ID: effect.CreatedID, Kind: msg.Target, Origin: origin, Timestamp: time.Now(),
			})
		}
		if effect.BlockedID != "" {
			blocked, _ := r.graph.Get(effect.BlockedID)
			stalls := 0
			if blocked != nil {
				stalls = blocked.StallCount
			}
			r.bus.Publish(events.TopicNode, events.NodeBlockedEvent{
				ID: effect.BlockedID, Reason: msg.Payload, Stalls: stalls, Timestamp: time.Now(),
			})
		}
		if effect.Escalated != "" {
			// Router already escalated the node; freeze its dependents.
			var frozen []string
			for _, depID := range r.graph.TransitiveDependents(effect.Escalated) {
				dep, exists := r.graph.Get(depID)
				if exists && dep.State == scheduler.StatePending {
					if err := r.graph.MarkBlocked(depID, fmt.Sprintf("upstream node %s escalated", effect.Escalated)); err == nil {
						frozen = append(frozen, depID)
					}
				}
			}
			r.bus.Publish(events.TopicNode, events.NodeEscalatedEvent{
				ID: effect.Escalated, Reason: "stall threshold exceeded", Frozen: frozen, Timestamp: time.Now(),
			})
		}
		for _, oldID := range effect.Superseded {
			old, _ := r.graph.Get(oldID)
			replacement := ""
			if old != nil {
				replacement = old.SupersededBy
			}
			r.bus.Publish(events.TopicNode, events.NodeSupersededEvent{
				ID: oldID, ReplacementID: replacement, Timestamp: time.Now(),
			})
		}
	}
}

// handleControl applies an operator request inside the serialized loop.
func (r *Runner) handleControl(req controlRequest, aborting bool, abortReason string, cancel context.CancelFunc) (bool, string) {
	switch req := req.(type) {
	case unblockRequest:
		node, exists := r.graph.Get(req.nodeID)
		if !exists || node.State != scheduler.StateBlocked {
			log.Printf("WARNING: unblock request for node %q ignored (not blocked)", req.nodeID)
			return aborting, abortReason
		}
		if err := r.graph.Requeue(req.nodeID); err != nil {
			log.Printf("WARNING: failed to unblock node %q: %v", req.nodeID, err)
		}
	case abortRequest:
		if !aborting {
			aborting, abortReason = true, req.reason
			cancel()
			r.abortRemaining()
		}
	}
	return aborting, abortReason
}

// abortRemaining transitions every non-terminal, non-Running node
// straight to Aborted without execution. Running nodes finish or cancel
// and are aborted as their completions arrive.
func (r *Runner) abortRemaining() {
	for _, node := range r.graph.Nodes() {
		if node.State.Terminal() || node.State == scheduler.StateRunning {
			continue
		}
		if err := r.graph.MarkAborted(node.ID); err != nil {
			log.Printf("WARNING: failed to abort node %q: %v", node.ID, err)
			continue
		}
		r.bus.Publish(events.TopicNode, events.NodeAbortedEvent{ID: node.ID, Timestamp: time.Now()})
	}
}

// updateDrainPhase flips to Draining once nothing is left to dispatch,
// and back to Running when a retry, unblock, or supersede revives
// waiting work mid-drain.
func (r *Runner) updateDrainPhase(aborting bool, inFlight int) {
	if inFlight == 0 {
		return
	}
	counts := r.graph.Counts()
	waiting := counts[scheduler.StatePending] + counts[scheduler.StateFailed] + counts[scheduler.StateBlocked]
	if aborting || waiting == 0 {
		r.setPhase(PhaseDraining, "")
		return
	}
	r.setPhase(PhaseRunning, "")
}

func (r *Runner) setPhase(p Phase, reason string) {
	r.mu.Lock()
	changed := r.phase != p
	r.phase = p
	r.mu.Unlock()

	if changed {
		r.bus.Publish(events.TopicRun, events.RunPhaseEvent{
			Phase: p.String(), Reason: reason, Timestamp: time.Now(),
		})
	}
}

func (r *Runner) publishProgress() {
	counts := r.graph.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	r.bus.Publish(events.TopicRun, events.RunProgressEvent{
		Total:     total,
		Succeeded: counts[scheduler.StateSucceeded],
		Running:   counts[scheduler.StateRunning],
		Failed:    counts[scheduler.StateFailed] + counts[scheduler.StateEscalated],
		Pending:   counts[scheduler.StatePending],
		Blocked:   counts[scheduler.StateBlocked],
		Escalated: counts[scheduler.StateEscalated],
		Timestamp: time.Now(),
	})
}
