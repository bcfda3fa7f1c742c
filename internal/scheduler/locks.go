package scheduler

import "sync"

// ResourceLockTable maps resource identifiers (file paths) to the node
// currently holding them. Locks are exclusive only: no two running nodes
// may write the same file. Acquisition is all-or-nothing, so combined
// with the acyclic dependency graph and fixed per-node resource sets,
// deadlock is impossible; a starved node is simply re-attempted on the
// next scheduling tick.
type ResourceLockTable struct {
	mu      sync.Mutex
	holders map[string]string // resource -> holding node ID
}

// NewResourceLockTable creates an empty lock table.
func NewResourceLockTable() *ResourceLockTable {
	return &ResourceLockTable{
		holders: make(map[string]string),
	}
}

// TryAcquire attempts to claim every resource in the set for nodeID.
// If any resource is held by a different node, nothing is acquired and
// false is returned. Re-acquiring resources already held by the same
// node is a no-op.
func (t *ResourceLockTable) TryAcquire(nodeID string, resources []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, res := range resources {
		if holder, held := t.holders[res]; held && holder != nodeID {
			return false
		}
	}
	for _, res := range resources {
		t.holders[res] = nodeID
	}
	return true
}

// Release frees every resource held by nodeID. Idempotent: releasing a
// node that holds nothing is a no-op.
func (t *ResourceLockTable) Release(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for res, holder := range t.holders {
		if holder == nodeID {
			delete(t.holders, res)
		}
	}
}

// Holder returns the node currently holding the resource, if any.
func (t *ResourceLockTable) Holder(resource string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	holder, held := t.holders[resource]
	return holder, held
}

// Holdings returns a copy of the full resource -> holder mapping, used
// when snapshotting run state.
func (t *ResourceLockTable) Holdings() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string, len(t.holders))
	for res, holder := range t.holders {
		out[res] = holder
	}
	return out
}

// Restore replaces the table contents with a persisted mapping.
func (t *ResourceLockTable) Restore(holders map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.holders = make(map[string]string, len(holders))
	for res, holder := range holders {
		t.holders[res] = holder
	}
}
