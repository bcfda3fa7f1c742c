package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT,
		state INTEGER NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		stall_count INTEGER NOT NULL DEFAULT 0,
		block_reason TEXT,
		superseded_by TEXT,
		seq INTEGER NOT NULL,
		result_success INTEGER,
		result_output TEXT,
		result_reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS node_dependencies (
		node_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (node_id, depends_on_id),
		FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_node_dependencies_node_id ON node_dependencies(node_id);

	CREATE TABLE IF NOT EXISTS node_resources (
		node_id TEXT NOT NULL,
		pos INTEGER NOT NULL,
		resource TEXT NOT NULL,
		PRIMARY KEY (node_id, pos),
		FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_node_resources_node_id ON node_resources(node_id);

	CREATE TABLE IF NOT EXISTS resource_locks (
		resource TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		FOREIGN KEY (holder_id) REFERENCES nodes(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
