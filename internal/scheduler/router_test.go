package scheduler

import (
	"fmt"
	"reflect"
	"testing"
)

// newTestRouter builds a router with deterministic node ID suffixes.
func newTestRouter(graph *TaskGraph, stallThreshold int) *MessageRouter {
	r := NewMessageRouter(graph, stallThreshold)
	counter := 0
	r.newSuffix = func() string {
		counter++
		return fmt.Sprintf("s%d", counter)
	}
	return r
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []ControlMessage
	}{
		{
			name:   "no tags",
			output: "built 3 packages\nall tests green\n",
			want:   nil,
		},
		{
			name:   "cross-domain with payload",
			output: "done\nCROSS-DOMAIN: docs update the API reference\n",
			want: []ControlMessage{
				{Type: MsgCrossDomain, Target: "docs", Payload: "update the API reference", Origin: "n1"},
			},
		},
		{
			name:   "blocker without payload",
			output: "BLOCKER: build-2\n",
			want: []ControlMessage{
				{Type: MsgBlocker, Target: "build-2", Origin: "n1"},
			},
		},
		{
			name:   "interface change",
			output: "INTERFACE-CHANGE: api-1 signature of Fetch changed\n",
			want: []ControlMessage{
				{Type: MsgInterfaceChange, Target: "api-1", Payload: "signature of Fetch changed", Origin: "n1"},
			},
		},
		{
			name:   "tag without target is skipped",
			output: "BLOCKER:\nCROSS-DOMAIN:   \n",
			want:   nil,
		},
		{
			name:   "mid-line mention is not a tag",
			output: "note: emit BLOCKER: x when stuck\n",
			want:   nil,
		},
		{
			name:   "leading whitespace tolerated",
			output: "  BLOCKER: build-2 waiting on schema\n",
			want: []ControlMessage{
				{Type: MsgBlocker, Target: "build-2", Payload: "waiting on schema", Origin: "n1"},
			},
		},
		{
			name:   "multiple tags in order",
			output: "CROSS-DOMAIN: docs sync\nok\nBLOCKER: b1 stuck\n",
			want: []ControlMessage{
				{Type: MsgCrossDomain, Target: "docs", Payload: "sync", Origin: "n1"},
				{Type: MsgBlocker, Target: "b1", Payload: "stuck", Origin: "n1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract("n1", tt.output)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRouteCrossDomainInjectsNode(t *testing.T) {
	g := NewTaskGraph()
	mustAdd(t, g, &TaskNode{ID: "origin", Kind: "build"})
	r := newTestRouter(g, 3)

	effect, err := r.Route(ControlMessage{
		Type: MsgCrossDomain, Target: "docs", Payload: "update reference", Origin: "origin",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if effect.CreatedID != "docs-s1" {
		t.Fatalf("expected created id docs-s1, got %q", effect.CreatedID)
	}

	node, exists := g.Get("docs-s1")
	if !exists {
		t.Fatal("injected node missing from graph")
	}
	if node.Kind != "docs" || node.State != StatePending || len(node.DependsOn) != 0 {
		t.Errorf("unexpected injected node: %+v", node)
	}
}

func TestRouteCrossDomainWithDependencies(t *testing.T) {
	g := NewTaskGraph()
	mustAdd(t, g, &TaskNode{ID: "origin", Kind: "build"})
	mustAdd(t, g, &TaskNode{ID: "schema", Kind: "build"})
	r := newTestRouter(g, 3)

	effect, err := r.Route(ControlMessage{
		Type: MsgCrossDomain, Target: "docs", Payload: "after=schema describe the new fields", Origin: "origin",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	node, _ := g.Get(effect.CreatedID)
	if !reflect.DeepEqual(node.DependsOn, []string{"schema"}) {
		t.Errorf("expected dependency on schema, got %v", node.DependsOn)
	}
}

func TestRouteCrossDomainUnknownDependencyFails(t *testing.T) {
	g := NewTaskGraph()
	mustAdd(t, g, &TaskNode{ID: "origin", Kind: "build"})
	r := newTestRouter(g, 3)

	_, err := r.Route(ControlMessage{
		Type: MsgCrossDomain, Target: "docs", Payload: "after=ghost", Origin: "origin",
	})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestRouteBlockerHoldsThenEscalates(t *testing.T) {
	g := NewTaskGraph()
	mustAdd(t, g, &TaskNode{ID: "target", Kind: "build"})
	mustAdd(t, g, &TaskNode{ID: "downstream", Kind: "test", DependsOn: []string{"target"}})
	r := newTestRouter(g, 2)

	msg := ControlMessage{Type: MsgBlocker, Target: "target", Payload: "schema undecided", Origin: "n1"}

	// First two signals hold the node.
	for i := 1; i <= 2; i++ {
		effect, err := r.Route(msg)
		if err != nil {
			t.Fatalf("Route signal %d: %v", i, err)
		}
		if effect.BlockedID != "target" || effect.Escalated != "" {
			t.Fatalf("signal %d: unexpected effect %+v", i, effect)
		}
		node, _ := g.Get("target")
		if node.State != StateBlocked || node.StallCount != i {
			t.Fatalf("signal %d: state %s stalls %d", i, node.State, node.StallCount)
		}
	}

	// The third exceeds the threshold.
	effect, err := r.Route(msg)
	if err != nil {
		t.Fatalf("Route signal 3: %v", err)
	}
	if effect.Escalated != "target" {
		t.Fatalf("expected escalation, got %+v", effect)
	}
	node, _ := g.Get("target")
	if node.State != StateEscalated {
		t.Errorf("expected escalated, got %s", node.State)
	}
}

func TestRouteBlockerUnknownTarget(t *testing.T) {
	g := NewTaskGraph()
	r := newTestRouter(g, 3)

	_, err := r.Route(ControlMessage{Type: MsgBlocker, Target: "ghost", Origin: "n1"})
	if err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestRouteInterfaceChangeSupersedesNonPendingDependents(t *testing.T) {
	g := NewTaskGraph()
	mustAdd(t, g, &TaskNode{ID: "api", Kind: "build"})
	mustAdd(t, g, &TaskNode{ID: "client", Kind: "build", DependsOn: []string{"api"}})
	mustAdd(t, g, &TaskNode{ID: "later", Kind: "test", DependsOn: []string{"api"}})
	mustSucceed(t, g, "api")
	mustSucceed(t, g, "client")

	r := newTestRouter(g, 3)
	effect, err := r.Route(ControlMessage{
		Type: MsgInterfaceChange, Target: "api", Payload: "Fetch now returns a cursor", Origin: "api",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !reflect.DeepEqual(effect.Superseded, []string{"client"}) {
		t.Fatalf("expected [client] superseded, got %v", effect.Superseded)
	}

	// The completed dependent is re-queued through a fresh replacement.
	old, _ := g.Get("client")
	if old.State != StateSuperseded {
		t.Errorf("expected client superseded, got %s", old.State)
	}
	replacement, exists := g.Get(old.SupersededBy)
	if !exists {
		t.Fatal("replacement missing")
	}
	if replacement.State != StatePending || replacement.Attempt != 0 || replacement.Result != nil {
		t.Errorf("replacement not reset: %+v", replacement)
	}
	if !reflect.DeepEqual(replacement.DependsOn, []string{"api"}) {
		t.Errorf("replacement deps %v", replacement.DependsOn)
	}

	// The pending dependent is untouched; it will see the new contract anyway.
	pending, _ := g.Get("later")
	if pending.State != StatePending {
		t.Errorf("pending dependent should be untouched, got %s", pending.State)
	}
}

func TestRouteInterfaceChangeUnknownTarget(t *testing.T) {
	g := NewTaskGraph()
	r := newTestRouter(g, 3)

	_, err := r.Route(ControlMessage{Type: MsgInterfaceChange, Target: "ghost", Origin: "n1"})
	if err == nil {
		t.Fatal("expected error for unknown target")
	}
}
