package persistence

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/aristath/dagrun/internal/scheduler"
)

func buildMidRunState(t *testing.T) (*scheduler.TaskGraph, *scheduler.ResourceLockTable) {
	t.Helper()
	graph := scheduler.NewTaskGraph()
	nodes := []*scheduler.TaskNode{
		{ID: "a", Kind: "build", Payload: "compile", Resources: []string{"src/main.go"}},
		{ID: "b", Kind: "test", DependsOn: []string{"a"}},
		{ID: "c", Kind: "review", DependsOn: []string{"b"}},
		{ID: "d", Kind: "research", Payload: "dig"},
		{ID: "e", Kind: "fix"},
	}
	for _, n := range nodes {
		if err := graph.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID, err)
		}
	}

	// a succeeded, b running, d failed once and requeued, e blocked.
	if err := graph.MarkRunning("a"); err != nil {
		t.Fatal(err)
	}
	if err := graph.MarkSucceeded("a", scheduler.Result{Output: "ok\ndone"}); err != nil {
		t.Fatal(err)
	}
	if err := graph.MarkRunning("b"); err != nil {
		t.Fatal(err)
	}
	if err := graph.MarkRunning("d"); err != nil {
		t.Fatal(err)
	}
	if err := graph.MarkFailed("d", scheduler.Result{Output: "partial", Reason: "exit 2"}); err != nil {
		t.Fatal(err)
	}
	if err := graph.Requeue("d"); err != nil {
		t.Fatal(err)
	}
	if err := graph.MarkBlocked("e", "waiting on schema"); err != nil {
		t.Fatal(err)
	}

	locks := scheduler.NewResourceLockTable()
	locks.TryAcquire("b", []string{"src/api.go", "src/client.go"})
	return graph, locks
}

func readyIDs(graph *scheduler.TaskGraph) []string {
	var ids []string
	for _, n := range graph.ReadyNodes() {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	graph, locks := buildMidRunState(t)

	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "state", "run.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	if err := store.SaveSnapshot(ctx, Capture(graph, locks)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	restoredGraph, restoredLocks, err := snap.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// The resumed run must see the exact same ready set.
	if !reflect.DeepEqual(readyIDs(restoredGraph), readyIDs(graph)) {
		t.Errorf("ready set diverged: %v vs %v", readyIDs(restoredGraph), readyIDs(graph))
	}
	if !reflect.DeepEqual(restoredGraph.Counts(), graph.Counts()) {
		t.Errorf("state counts diverged: %v vs %v", restoredGraph.Counts(), graph.Counts())
	}
	if !reflect.DeepEqual(restoredLocks.Holdings(), locks.Holdings()) {
		t.Errorf("lock holdings diverged: %v vs %v", restoredLocks.Holdings(), locks.Holdings())
	}

	// Node detail survives: states, attempts, results, reasons, deps.
	want, _ := graph.Get("d")
	got, exists := restoredGraph.Get("d")
	if !exists {
		t.Fatal("node d missing after restore")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("node d diverged:\ngot  %+v\nwant %+v", got, want)
	}
	blocked, _ := restoredGraph.Get("e")
	if blocked.BlockReason != "waiting on schema" {
		t.Errorf("block reason lost: %q", blocked.BlockReason)
	}
}

func TestSnapshotPreservesResourceIdentifiers(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	// Resource identifiers are opaque strings; separators and whitespace
	// must not change how many resources a node holds after a restart.
	resources := []string{"dir/with,comma.go", "a b.go", `odd"quote.go`, "plain.go"}
	graph := scheduler.NewTaskGraph()
	if err := graph.AddNode(&scheduler.TaskNode{ID: "a", Kind: "build", Resources: resources}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if err := store.SaveSnapshot(ctx, Capture(graph, scheduler.NewResourceLockTable())); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	restoredGraph, _, err := snap.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	restored, exists := restoredGraph.Get("a")
	if !exists {
		t.Fatal("node a missing after restore")
	}
	if !reflect.DeepEqual(restored.Resources, resources) {
		t.Errorf("resources did not round-trip: got %v, want %v", restored.Resources, resources)
	}
}

func TestSaveSnapshotReplacesPreviousState(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	graph, locks := buildMidRunState(t)
	if err := store.SaveSnapshot(ctx, Capture(graph, locks)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// Second save with a smaller graph fully replaces the first.
	small := scheduler.NewTaskGraph()
	if err := small.AddNode(&scheduler.TaskNode{ID: "only", Kind: "build"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSnapshot(ctx, Capture(small, scheduler.NewResourceLockTable())); err != nil {
		t.Fatalf("second SaveSnapshot: %v", err)
	}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(snap.Nodes) != 1 || snap.Nodes[0].ID != "only" {
		t.Errorf("stale nodes survived the replace: %+v", snap.Nodes)
	}
	if len(snap.Locks) != 0 {
		t.Errorf("stale locks survived the replace: %v", snap.Locks)
	}
}

func TestLoadSnapshotEmptyStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(snap.Nodes) != 0 || len(snap.Locks) != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}
