package runner

// controlRequest is an operator request serialized into the scheduling
// loop alongside executor completions, so control actions observe the
// same determinism as everything else.
type controlRequest interface {
	isControlRequest()
}

// unblockRequest clears a BLOCKER condition on a node, returning it to
// Pending for the next tick.
type unblockRequest struct {
	nodeID string
}

func (unblockRequest) isControlRequest() {}

// abortRequest terminates the run: Pending nodes go straight to
// Aborted, Running nodes are cancelled best-effort.
type abortRequest struct {
	reason string
}

func (abortRequest) isControlRequest() {}

// Unblock signals that the external condition blocking a node has
// cleared. The node is re-evaluated on a subsequent tick.
func (r *Runner) Unblock(nodeID string) {
	r.control <- unblockRequest{nodeID: nodeID}
}

// Abort requests best-effort cancellation of the whole run.
func (r *Runner) Abort(reason string) {
	r.control <- abortRequest{reason: reason}
}
