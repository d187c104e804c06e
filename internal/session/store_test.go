package session

import (
	"testing"
	"time"
)

func TestNewRoster(t *testing.T) {
	r := NewRoster()
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRosterPutAndName(t *testing.T) {
	r := NewRoster()
	r.Put("puuid-1", "Alice#NA1")

	name, ok := r.Name("puuid-1")
	if !ok || name != "Alice#NA1" {
		t.Errorf("Name() = %q, %v", name, ok)
	}

	r.Put("puuid-1", "Alice2#NA1")
	if name, _ := r.Name("puuid-1"); name != "Alice2#NA1" {
		t.Errorf("Name() after update = %q", name)
	}
}

func TestRosterIgnoresEmpty(t *testing.T) {
	r := NewRoster()
	r.Put("", "x")
	r.Put("id", "")
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRosterAllReturnsCopy(t *testing.T) {
	r := NewRoster()
	r.Put("a", "A")

	all := r.All()
	all["a"] = "mutated"
	all["b"] = "B"

	if name, _ := r.Name("a"); name != "A" {
		t.Errorf("roster mutated through All(): %q", name)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestIdentityWriteOnce(t *testing.T) {
	var id Identity

	if _, ok := id.Get(); ok {
		t.Fatal("new identity should not be captured")
	}
	if id.Capture("") {
		t.Error("empty id must not be captured")
	}
	if !id.Capture("first") {
		t.Fatal("first capture should succeed")
	}
	if id.Capture("second") {
		t.Error("second capture should be rejected")
	}

	got, ok := id.Get()
	if !ok || got != "first" {
		t.Errorf("Get() = %q, %v, want first, true", got, ok)
	}
	if !id.Captured() {
		t.Error("Captured() = false")
	}
}

func TestNewSession(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(start)

	if !s.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v", s.StartedAt)
	}
	if s.Identity == nil || s.Roster == nil || s.GameState == nil {
		t.Fatal("New() left shared state nil")
	}
	if s.GameState.Get() != Unknown {
		t.Errorf("initial game state = %v", s.GameState.Get())
	}
}
