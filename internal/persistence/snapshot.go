package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/dagrun/internal/scheduler"
)

// Snapshot is the persisted image of a run: the full node set plus the
// resource lock holders. Enough to reconstruct an identical ready set
// after a restart.
type Snapshot struct {
	Nodes []*scheduler.TaskNode
	Locks map[string]string // resource -> holder node ID
}

// Capture builds a snapshot from live run state.
func Capture(graph *scheduler.TaskGraph, locks *scheduler.ResourceLockTable) *Snapshot {
	return &Snapshot{
		Nodes: graph.Nodes(),
		Locks: locks.Holdings(),
	}
}

// Restore materializes the snapshot into a fresh graph and lock table.
func (snap *Snapshot) Restore() (*scheduler.TaskGraph, *scheduler.ResourceLockTable, error) {
	graph := scheduler.NewTaskGraph()
	if err := graph.Restore(snap.Nodes); err != nil {
		return nil, nil, fmt.Errorf("restoring graph: %w", err)
	}
	locks := scheduler.NewResourceLockTable()
	locks.Restore(snap.Locks)
	return graph, locks, nil
}

// SaveSnapshot replaces the persisted run state with snap. The write is
// transactional: a crash mid-save never leaves a half-written snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Full replace: lock rows cascade with their holder nodes.
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}

	for _, node := range snap.Nodes {
		var success, output, reason interface{}
		if node.Result != nil {
			success = node.Result.Success
			output = node.Result.Output
			reason = node.Result.Reason
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, kind, payload, state, attempt, stall_count,
				block_reason, superseded_by, seq, result_success, result_output, result_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, node.ID, node.Kind, node.Payload,
			node.State, node.Attempt, node.StallCount,
			node.BlockReason, node.SupersededBy, node.Seq, success, output, reason)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
		}

		// Resources go in a child table so arbitrary identifiers (spaces,
		// commas, anything) survive the round trip byte for byte.
		for pos, resource := range node.Resources {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO node_resources (node_id, pos, resource)
				VALUES (?, ?, ?)
			`, node.ID, pos, resource)
			if err != nil {
				return fmt.Errorf("failed to insert resource %q for node %s: %w", resource, node.ID, err)
			}
		}
	}

	for _, node := range snap.Nodes {
		for _, depID := range node.DependsOn {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO node_dependencies (node_id, depends_on_id)
				VALUES (?, ?)
			`, node.ID, depID)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", node.ID, depID, err)
			}
		}
	}

	for resource, holder := range snap.Locks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resource_locks (resource, holder_id)
			VALUES (?, ?)
		`, resource, holder)
		if err != nil {
			return fmt.Errorf("failed to insert lock %s: %w", resource, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted run state. Nodes come back in seq
// order so restored scheduling is reproducible.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, state, attempt, stall_count,
			block_reason, superseded_by, seq, result_success, result_output, result_reason
		FROM nodes
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	snap := &Snapshot{Locks: make(map[string]string)}
	for rows.Next() {
		node := &scheduler.TaskNode{}
		var success sql.NullBool
		var output, reason sql.NullString

		err := rows.Scan(&node.ID, &node.Kind, &node.Payload, &node.State,
			&node.Attempt, &node.StallCount, &node.BlockReason, &node.SupersededBy,
			&node.Seq, &success, &output, &reason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if success.Valid {
			node.Result = &scheduler.Result{
				Success: success.Bool,
				Output:  output.String,
				Reason:  reason.String,
			}
		}

		resRows, err := s.db.QueryContext(ctx, `
			SELECT resource
			FROM node_resources
			WHERE node_id = ?
			ORDER BY pos
		`, node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query resources for node %s: %w", node.ID, err)
		}
		for resRows.Next() {
			var resource string
			if err := resRows.Scan(&resource); err != nil {
				resRows.Close()
				return nil, fmt.Errorf("failed to scan resource: %w", err)
			}
			node.Resources = append(node.Resources, resource)
		}
		resRows.Close()
		if err := resRows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating resources: %w", err)
		}

		depRows, err := s.db.QueryContext(ctx, `
			SELECT depends_on_id
			FROM node_dependencies
			WHERE node_id = ?
			ORDER BY depends_on_id
		`, node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query dependencies for node %s: %w", node.ID, err)
		}
		for depRows.Next() {
			var depID string
			if err := depRows.Scan(&depID); err != nil {
				depRows.Close()
				return nil, fmt.Errorf("failed to scan dependency: %w", err)
			}
			node.DependsOn = append(node.DependsOn, depID)
		}
		depRows.Close()
		if err := depRows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating dependencies: %w", err)
		}

		snap.Nodes = append(snap.Nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	lockRows, err := s.db.QueryContext(ctx, `SELECT resource, holder_id FROM resource_locks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locks: %w", err)
	}
	defer lockRows.Close()
	for lockRows.Next() {
		var resource, holder string
		if err := lockRows.Scan(&resource, &holder); err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		snap.Locks[resource] = holder
	}
	if err := lockRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locks: %w", err)
	}

	return snap, nil
}
