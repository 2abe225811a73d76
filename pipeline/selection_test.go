package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSelectionLifecycle(t *testing.T) {
	s := NewSelection()
	var events []SelectionEvent
	unsubscribe := s.Subscribe(func(ev SelectionEvent) { events = append(events, ev) })

	if !s.Select("b") || !s.Select("a") {
		t.Fatal("first selections should change the set")
	}
	if s.Select("a") {
		t.Fatal("duplicate select should be a no-op")
	}
	if diff := cmp.Diff([]string{"a", "b"}, s.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if !s.Contains("b") || s.Contains("z") {
		t.Fatal("unexpected membership")
	}
	if !s.Unselect("b") || s.Unselect("b") {
		t.Fatal("unselect should change the set exactly once")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("len after clear = %d", s.Len())
	}

	want := []SelectionEvent{
		{Change: Selected, ActivityID: "b", Count: 1},
		{Change: Selected, ActivityID: "a", Count: 2},
		{Change: Unselected, ActivityID: "b", Count: 1},
		{Change: Cleared},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	unsubscribe()
	s.Select("c")
	if len(events) != len(want) {
		t.Fatalf("unsubscribed callback still called: %d events", len(events))
	}
}

func TestSelectionSnapshotIsACopy(t *testing.T) {
	s := NewSelection("x")
	snap := s.Snapshot()
	snap[0] = "mutated"
	if !s.Contains("x") {
		t.Fatal("snapshot mutation leaked into selection")
	}
}
