package scheduler

// RetryDecision is the outcome of applying the retry policy to a failed
// node.
type RetryDecision int

const (
	DecisionRetry    RetryDecision = iota // Requeue the node, dependencies unchanged
	DecisionEscalate                      // Retries exhausted, surface to the operator
)

// String returns the lowercase name of the decision.
func (d RetryDecision) String() string {
	if d == DecisionRetry {
		return "retry"
	}
	return "escalate"
}

// RetryPolicy holds per-kind attempt budgets. The limits are
// configuration, not constants: build/test cycles typically cap at 3,
// review/fix cycles at 5, research sub-queries at 2.
type RetryPolicy struct {
	limits  map[string]int
	defined int // fallback for kinds without an explicit limit
}

// NewRetryPolicy creates a policy from a kind -> max attempts map and a
// fallback for unlisted kinds. Non-positive limits are clamped to 1 so a
// node always gets at least one attempt.
func NewRetryPolicy(limits map[string]int, fallback int) *RetryPolicy {
	if fallback <= 0 {
		fallback = 1
	}
	cp := make(map[string]int, len(limits))
	for kind, max := range limits {
		if max <= 0 {
			max = 1
		}
		cp[kind] = max
	}
	return &RetryPolicy{limits: cp, defined: fallback}
}

// MaxAttempts returns the attempt budget for a node kind.
func (p *RetryPolicy) MaxAttempts(kind string) int {
	if max, ok := p.limits[kind]; ok {
		return max
	}
	return p.defined
}

// OnFailure decides whether a failed node is retried or escalated.
// The node's Attempt count already includes the failed run.
func (p *RetryPolicy) OnFailure(node *TaskNode) RetryDecision {
	if node.Attempt < p.MaxAttempts(node.Kind) {
		return DecisionRetry
	}
	return DecisionEscalate
}
