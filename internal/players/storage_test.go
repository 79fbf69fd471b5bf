package players

import (
	"testing"
)

func TestNewRoster(t *testing.T) {
	r := NewRoster()
	if r == nil {
		t.Fatal("NewRoster() returned nil")
	}
	if r.Count() != 0 {
		t.Errorf("new roster should be empty, got %d players", r.Count())
	}
	if r.NextSeq() != 1 {
		t.Errorf("NextSeq = %d, want 1", r.NextSeq())
	}
}

func TestRoster_Add(t *testing.T) {
	r := NewRoster()
	p := r.Add("id1", "Alice")

	if p.ID != "id1" {
		t.Errorf("player ID = %q, want %q", p.ID, "id1")
	}
	if p.Nickname != "Alice" {
		t.Errorf("player Nickname = %q, want %q", p.Nickname, "Alice")
	}
	if p.JoinedSeq != 1 {
		t.Errorf("player JoinedSeq = %d, want 1", p.JoinedSeq)
	}
	if p.Ready {
		t.Error("player Ready should be false")
	}

	if dup := r.Add("id1", "Alice again"); dup != nil {
		t.Error("Add should return nil for a duplicate id")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRoster_JoinOrder(t *testing.T) {
	r := NewRoster()
	r.Add("c", "Carol")
	r.Add("a", "Alice")
	r.Add("b", "Bob")

	ids := r.IDs()
	want := []string{"c", "a", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs = %v, want %v", ids, want)
		}
	}

	list := r.GetList()
	for i := 1; i < len(list); i++ {
		if list[i].JoinedSeq <= list[i-1].JoinedSeq {
			t.Errorf("JoinedSeq not increasing: %d then %d", list[i-1].JoinedSeq, list[i].JoinedSeq)
		}
	}
}

func TestRoster_GetListReturnsCopies(t *testing.T) {
	r := NewRoster()
	r.Add("id1", "Alice")

	list := r.GetList()
	list[0].Ready = true

	if r.Get("id1").Ready {
		t.Error("mutating GetList() result should not affect the roster")
	}
}

func TestRoster_Remove(t *testing.T) {
	r := NewRoster()
	r.Add("id1", "Alice")
	r.Add("id2", "Bob")

	if !r.Remove("id1") {
		t.Error("Remove should return true for existing player")
	}
	if r.Get("id1") != nil {
		t.Error("player should be nil after removal")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 player after removal, got %d", r.Count())
	}
	if r.Remove("nonexistent") {
		t.Error("Remove should return false for nonexistent player")
	}
}

func TestRoster_SeqNotReusedAfterRemove(t *testing.T) {
	r := NewRoster()
	r.Add("id1", "Alice")
	r.Remove("id1")
	p := r.Add("id1", "Alice")

	if p.JoinedSeq != 2 {
		t.Errorf("rejoin JoinedSeq = %d, want 2", p.JoinedSeq)
	}
}

func TestRoster_Earliest(t *testing.T) {
	r := NewRoster()
	if r.Earliest("") != nil {
		t.Error("Earliest on empty roster should be nil")
	}

	r.Add("alice", "Alice")
	r.Add("bob", "Bob")
	r.Add("carol", "Carol")

	if p := r.Earliest(""); p.ID != "alice" {
		t.Errorf("Earliest(\"\") = %q, want %q", p.ID, "alice")
	}
	if p := r.Earliest("alice"); p.ID != "bob" {
		t.Errorf("Earliest(alice) = %q, want %q", p.ID, "bob")
	}

	r.Remove("bob")
	if p := r.Earliest("alice"); p.ID != "carol" {
		t.Errorf("Earliest(alice) after removing bob = %q, want %q", p.ID, "carol")
	}
}

func TestRoster_SetReady(t *testing.T) {
	r := NewRoster()
	r.Add("id1", "Alice")

	p := r.SetReady("id1", true)
	if !p.Ready {
		t.Error("player should be ready")
	}

	p = r.SetReady("id1", false)
	if p.Ready {
		t.Error("player should not be ready")
	}

	p = r.SetReady("nonexistent", true)
	if p != nil {
		t.Error("SetReady should return nil for nonexistent player")
	}
}

func TestRoster_AllReady(t *testing.T) {
	r := NewRoster()

	// Empty roster
	if r.AllReady("") {
		t.Error("AllReady should be false for empty roster")
	}

	r.Add("host", "Host")

	// Host only
	if r.AllReady("host") {
		t.Error("AllReady should be false when only the excluded member is present")
	}

	r.Add("id1", "Alice")
	r.Add("id2", "Bob")

	if r.AllReady("host") {
		t.Error("AllReady should be false when no one is ready")
	}

	r.SetReady("id1", true)
	if r.AllReady("host") {
		t.Error("AllReady should be false when only one player is ready")
	}

	r.SetReady("id2", true)
	if !r.AllReady("host") {
		t.Error("AllReady should be true when all non-host players are ready")
	}
	if r.AllReady("") {
		t.Error("AllReady(\"\") should count the unready host")
	}
}

func TestRoster_Restore(t *testing.T) {
	r := NewRoster()
	r.Restore(Player{ID: "bob", Nickname: "Bob", JoinedSeq: 5, Ready: true})
	r.Restore(Player{ID: "alice", Nickname: "Alice", JoinedSeq: 2})
	r.Restore(Player{ID: "carol", Nickname: "Carol", JoinedSeq: 9})

	ids := r.IDs()
	want := []string{"alice", "bob", "carol"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs = %v, want %v", ids, want)
		}
	}
	if r.NextSeq() != 10 {
		t.Errorf("NextSeq = %d, want 10", r.NextSeq())
	}
	if !r.Get("bob").Ready {
		t.Error("restored ready flag lost")
	}
	if r.Restore(Player{ID: "bob", JoinedSeq: 11}) {
		t.Error("Restore should reject a duplicate id")
	}
}
