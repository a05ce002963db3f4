package ws

import "testing"

func TestResolveRoomOrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"9", "10"},
		{"u-1", "u-2"},
		{"", "x"},
	}
	for _, p := range pairs {
		if got, want := ResolveRoom(p[0], p[1]), ResolveRoom(p[1], p[0]); got != want {
			t.Fatalf("ResolveRoom(%q,%q)=%q but ResolveRoom(%q,%q)=%q", p[0], p[1], got, p[1], p[0], want)
		}
	}
}

func TestResolveRoomStable(t *testing.T) {
	if got := ResolveRoom("bob", "alice"); got != "alice:bob" {
		t.Fatalf("expected alice:bob, got %q", got)
	}
	if first, second := ResolveRoom("a", "b"), ResolveRoom("a", "b"); first != second {
		t.Fatalf("same pair produced different rooms: %q vs %q", first, second)
	}
}

func TestResolveRoomEqualIDs(t *testing.T) {
	// Self pairs are rejected at the dispatch layer; the resolver itself
	// stays total and deterministic.
	if got := ResolveRoom("alice", "alice"); got != "alice:alice" {
		t.Fatalf("expected alice:alice, got %q", got)
	}
}
