package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aristath/dagrun/internal/scheduler"
)

// graphSpecNode is one entry in the JSON decomposition input.
type graphSpecNode struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Payload   string   `json:"payload,omitempty"`
	Resources []string `json:"resources,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// loadGraphSpec parses a JSON graph spec file and assembles the task
// graph. Nodes may be listed in any order; insertion is deferred until
// every dependency is present. Duplicate IDs, dangling dependencies and
// cycles are rejected by the graph itself.
func loadGraphSpec(path string) (*scheduler.TaskGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph spec %s: %w", path, err)
	}

	var specNodes []graphSpecNode
	if err := json.Unmarshal(data, &specNodes); err != nil {
		return nil, fmt.Errorf("parsing graph spec %s: %w", path, err)
	}
	if len(specNodes) == 0 {
		return nil, fmt.Errorf("graph spec %s contains no nodes", path)
	}

	graph := scheduler.NewTaskGraph()
	remaining := specNodes
	for len(remaining) > 0 {
		var deferred []graphSpecNode
		progressed := false
		for _, sn := range remaining {
			if sn.ID == "" {
				return nil, fmt.Errorf("graph spec %s: node without id", path)
			}
			if sn.Kind == "" {
				return nil, fmt.Errorf("graph spec %s: node %q without kind", path, sn.ID)
			}
			if !depsPresent(graph, sn.DependsOn) {
				deferred = append(deferred, sn)
				continue
			}
			err := graph.AddNode(&scheduler.TaskNode{
				ID:        sn.ID,
				Kind:      sn.Kind,
				Payload:   sn.Payload,
				Resources: sn.Resources,
				DependsOn: sn.DependsOn,
			})
			if err != nil {
				return nil, fmt.Errorf("graph spec %s: %w", path, err)
			}
			progressed = true
		}
		if !progressed {
			// Every remaining node waits on an absent dependency:
			// either a dangling reference or a dependency cycle.
			return nil, fmt.Errorf("graph spec %s: unresolvable dependencies for %s",
				path, deferredIDs(deferred))
		}
		remaining = deferred
	}
	return graph, nil
}

func depsPresent(graph *scheduler.TaskGraph, deps []string) bool {
	for _, dep := range deps {
		if _, exists := graph.Get(dep); !exists {
			return false
		}
	}
	return true
}

func deferredIDs(nodes []graphSpecNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
