package config

// ExecutorConfig defines the subprocess behind a capability kind.
// Multiple kinds can point at the same command with different args.
type ExecutorConfig struct {
	Command string   `json:"command"`        // Binary name or path
	Args    []string `json:"args,omitempty"` // Args appended to every invocation
	WorkDir string   `json:"work_dir,omitempty"`
}

// RetryConfig holds the per-kind attempt budgets. Kinds without an
// entry use Default.
type RetryConfig struct {
	MaxAttempts map[string]int `json:"max_attempts,omitempty"`
	Default     int            `json:"default"`
}

// SchedulerConfig tunes the run loop.
type SchedulerConfig struct {
	Concurrency        int `json:"concurrency"`          // Max concurrent executors
	NodeTimeoutSeconds int `json:"node_timeout_seconds"` // Per-dispatch timeout; 0 disables
	StallThreshold     int `json:"stall_threshold"`      // BLOCKER signals before escalation
}

// Config is the top-level configuration.
type Config struct {
	Scheduler  SchedulerConfig           `json:"scheduler"`
	Retry      RetryConfig               `json:"retry"`
	Executors  map[string]ExecutorConfig `json:"executors"`
	AuditLog   string                    `json:"audit_log,omitempty"`   // Append-only run log path
	SnapshotDB string                    `json:"snapshot_db,omitempty"` // SQLite path for resumable state
}
