package executor

import (
	"context"
	"fmt"
	"sync"
)

// Request is the unit of work handed to an executor.
type Request struct {
	NodeID    string
	Kind      string
	Payload   string
	Resources []string
	Attempt   int
}

// Result is the structured outcome of an execution.
type Result struct {
	Success     bool
	Output      string // Free text; the scheduler scans it for control tags
	ErrorReason string
}

// Executor performs a unit of work. Implementations are opaque to the
// scheduler: possibly slow, possibly failing. Execute must honor context
// cancellation (the scheduler's cancellation hook).
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the Executor interface. Used heavily
// in tests.
type Func func(ctx context.Context, req Request) (Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registry maps capability kinds to executor instances.
type Registry struct {
	mu    sync.RWMutex
	execs map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		execs: make(map[string]Executor),
	}
}

// Register maps a capability kind to an executor. Later registrations
// for the same kind replace earlier ones.
func (r *Registry) Register(kind string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs[kind] = e
}

// Lookup returns the executor for a kind.
func (r *Registry) Lookup(kind string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.execs[kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for kind %q", kind)
	}
	return e, nil
}

// Kinds returns the registered capability kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.execs))
	for kind := range r.execs {
		kinds = append(kinds, kind)
	}
	return kinds
}
