package scheduler

import (
	"reflect"
	"testing"
)

func TestTryAcquireAllOrNothing(t *testing.T) {
	locks := NewResourceLockTable()

	if !locks.TryAcquire("a", []string{"main.go", "utils.go"}) {
		t.Fatal("first acquisition should succeed")
	}

	// One conflicting resource poisons the whole set.
	if locks.TryAcquire("b", []string{"other.go", "utils.go"}) {
		t.Fatal("overlapping acquisition should fail")
	}
	if _, held := locks.Holder("other.go"); held {
		t.Error("failed acquisition must not claim any resource")
	}

	if !locks.TryAcquire("b", []string{"other.go"}) {
		t.Error("disjoint acquisition should succeed")
	}
}

func TestTryAcquireSameHolderIsNoOp(t *testing.T) {
	locks := NewResourceLockTable()
	if !locks.TryAcquire("a", []string{"main.go"}) {
		t.Fatal("first acquisition should succeed")
	}
	if !locks.TryAcquire("a", []string{"main.go", "extra.go"}) {
		t.Error("re-acquisition by the same holder should succeed")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	locks := NewResourceLockTable()
	locks.TryAcquire("a", []string{"main.go", "utils.go"})

	locks.Release("a")
	if _, held := locks.Holder("main.go"); held {
		t.Error("resource still held after release")
	}

	// Releasing again, or releasing a node that holds nothing, is fine.
	locks.Release("a")
	locks.Release("never-acquired")

	if !locks.TryAcquire("b", []string{"main.go", "utils.go"}) {
		t.Error("resources should be acquirable after release")
	}
}

func TestHoldingsRoundTrip(t *testing.T) {
	locks := NewResourceLockTable()
	locks.TryAcquire("a", []string{"main.go"})
	locks.TryAcquire("b", []string{"utils.go"})

	restored := NewResourceLockTable()
	restored.Restore(locks.Holdings())

	if !reflect.DeepEqual(restored.Holdings(), locks.Holdings()) {
		t.Errorf("holdings diverged: %v vs %v", restored.Holdings(), locks.Holdings())
	}
	if restored.TryAcquire("c", []string{"main.go"}) {
		t.Error("restored lock should still exclude other holders")
	}
}
