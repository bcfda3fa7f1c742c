package config

// DefaultConfig returns the baseline configuration. The per-kind retry
// budgets mirror the usual cadence of the work: build/test cycles get 3
// attempts, review/fix cycles 5, research sub-queries 2.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Concurrency:        4,
			NodeTimeoutSeconds: 600,
			StallThreshold:     3,
		},
		Retry: RetryConfig{
			MaxAttempts: map[string]int{
				"build":    3,
				"test":     3,
				"review":   5,
				"fix":      5,
				"research": 2,
			},
			Default: 3,
		},
		Executors:  map[string]ExecutorConfig{},
		AuditLog:   ".dagrun/audit.log",
		SnapshotDB: ".dagrun/state.db",
	}
}
