package executor

import (
	"context"
	"sort"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Lookup("build"); err == nil {
		t.Fatal("expected error for unregistered kind")
	}

	var calls int
	reg.Register("build", Func(func(ctx context.Context, req Request) (Result, error) {
		calls++
		return Result{Success: true, Output: "built " + req.NodeID}, nil
	}))

	exec, err := reg.Lookup("build")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	res, err := exec.Execute(context.Background(), Request{NodeID: "a", Kind: "build"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Output != "built a" || calls != 1 {
		t.Errorf("unexpected result %+v (calls=%d)", res, calls)
	}
}

func TestRegistryReplaceAndKinds(t *testing.T) {
	reg := NewRegistry()
	noop := Func(func(ctx context.Context, req Request) (Result, error) {
		return Result{Success: true}, nil
	})
	reg.Register("build", noop)
	reg.Register("test", noop)
	reg.Register("build", Func(func(ctx context.Context, req Request) (Result, error) {
		return Result{Success: false, ErrorReason: "replaced"}, nil
	}))

	kinds := reg.Kinds()
	sort.Strings(kinds)
	if len(kinds) != 2 || kinds[0] != "build" || kinds[1] != "test" {
		t.Errorf("unexpected kinds %v", kinds)
	}

	exec, _ := reg.Lookup("build")
	res, _ := exec.Execute(context.Background(), Request{})
	if res.ErrorReason != "replaced" {
		t.Error("later registration did not replace the earlier one")
	}
}
