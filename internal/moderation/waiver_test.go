package moderation

import (
	"sort"
	"testing"
)

func TestWaiverSetApply(t *testing.T) {
	ws := NewWaiverSet()
	ws.Apply("alice", "Alice", true)
	ws.Apply("bob", "Bob", true)
	ws.Apply("alice", "", false)

	snap := ws.Snapshot()
	if snap.Contains("alice") {
		t.Fatal("removed author still waived")
	}
	if !snap.Contains("bob") {
		t.Fatal("waived author missing")
	}
	if names := snap.Names(); len(names) != 1 || names[0] != "Bob" {
		t.Fatalf("names = %v, want [Bob]", names)
	}
}

func TestWaiverSnapshotImmutable(t *testing.T) {
	ws := NewWaiverSet()
	ws.Apply("alice", "Alice", true)

	before := ws.Snapshot()
	ws.Apply("alice", "", false)
	ws.Apply("bob", "Bob", true)

	// A snapshot taken earlier keeps describing that moment.
	if !before.Contains("alice") || before.Contains("bob") {
		t.Fatal("earlier snapshot mutated by later role changes")
	}
	if before.Version() == ws.Snapshot().Version() {
		t.Fatal("version did not advance across changes")
	}
}

func TestWaiverSetReplace(t *testing.T) {
	ws := NewWaiverSet()
	ws.Apply("alice", "Alice", true)

	ws.Replace(map[string]string{"carol": "Carol", "dave": "Dave"})
	snap := ws.Snapshot()
	if snap.Contains("alice") {
		t.Fatal("replace kept a stale member")
	}

	names := snap.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "Carol" || names[1] != "Dave" {
		t.Fatalf("names = %v", names)
	}
}
