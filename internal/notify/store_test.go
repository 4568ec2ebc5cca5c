package notify

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func item(id string, read bool) Notification {
	return Notification{
		ID:        id,
		UserID:    "9",
		Type:      "booking_request",
		Title:     "New booking request",
		Message:   "notification " + id,
		IsRead:    read,
		CreatedAt: t0,
	}
}

// checkInvariant asserts unread == count(is_read == false).
func checkInvariant(t *testing.T, s *Store) {
	t.Helper()
	want := 0
	for _, n := range s.Items() {
		if !n.IsRead {
			want++
		}
	}
	if got := s.Unread(); got != want {
		t.Fatalf("unread = %d, want %d (invariant violated)", got, want)
	}
}

func TestReplaceSnapshotRecomputes(t *testing.T) {
	s := NewStore("9", nil, nil)
	s.ReceivePush(item("old", false))

	s.ReplaceSnapshot([]Notification{item("n1", false), item("n2", true), item("n3", false)})
	checkInvariant(t, s)
	if got := s.Unread(); got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}
	if got := len(s.Items()); got != 3 {
		t.Errorf("len = %d, want 3 (snapshot replaces, not merges)", got)
	}
}

func TestReceivePushPrepends(t *testing.T) {
	s := NewStore("9", nil, nil)
	s.ReceivePush(item("n1", false))
	s.ReceivePush(item("n2", false))

	items := s.Items()
	if items[0].ID != "n2" {
		t.Errorf("first = %q, want n2 (newest first)", items[0].ID)
	}
	checkInvariant(t, s)
}

func TestReceivePushReadItemDoesNotIncrement(t *testing.T) {
	s := NewStore("9", nil, nil)
	s.ReceivePush(item("n1", true))
	if got := s.Unread(); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
	checkInvariant(t, s)
}

func TestReceivePushIdempotent(t *testing.T) {
	s := NewStore("9", nil, nil)
	if !s.ReceivePush(item("n1", false)) {
		t.Error("first push should change the list")
	}
	if s.ReceivePush(item("n1", false)) {
		t.Error("duplicate push should be a no-op")
	}
	if got := s.Unread(); got != 1 {
		t.Errorf("unread = %d, want 1", got)
	}
	checkInvariant(t, s)
}

func TestMarkReadAndRevert(t *testing.T) {
	s := NewStore("9", nil, nil)
	s.ReplaceSnapshot([]Notification{item("n1", false)})

	if !s.MarkRead("n1") {
		t.Fatal("MarkRead should flip an unread item")
	}
	if got := s.Unread(); got != 0 {
		t.Errorf("unread = %d, want 0 after optimistic flip", got)
	}
	checkInvariant(t, s)

	// Server rejected the call: both fields revert.
	s.RevertRead("n1")
	if got := s.Unread(); got != 1 {
		t.Errorf("unread = %d, want 1 after rollback", got)
	}
	if s.Items()[0].IsRead {
		t.Error("is_read should revert to false")
	}
	checkInvariant(t, s)
}

func TestMarkReadNoopOnReadOrUnknown(t *testing.T) {
	s := NewStore("9", nil, nil)
	s.ReplaceSnapshot([]Notification{item("n1", true)})

	if s.MarkRead("n1") {
		t.Error("marking an already-read item should report no change")
	}
	if s.MarkRead("ghost") {
		t.Error("marking an unknown item should report no change")
	}
	if got := s.Unread(); got != 0 {
		t.Errorf("unread = %d, want 0 (floored, never negative)", got)
	}
	checkInvariant(t, s)
}

func TestRevertReadNoopWithoutPriorMark(t *testing.T) {
	s := NewStore("9", nil, nil)
	s.ReplaceSnapshot([]Notification{item("n1", false)})

	s.RevertRead("n1")
	s.RevertRead("ghost")
	if got := s.Unread(); got != 1 {
		t.Errorf("unread = %d, want 1", got)
	}
	checkInvariant(t, s)
}

func TestUnreadIDs(t *testing.T) {
	s := NewStore("9", nil, nil)
	s.ReplaceSnapshot([]Notification{item("n1", false), item("n2", true), item("n3", false)})

	ids := s.UnreadIDs()
	if len(ids) != 2 || ids[0] != "n1" || ids[1] != "n3" {
		t.Errorf("UnreadIDs() = %v, want [n1 n3]", ids)
	}
}

// TestInvariantAcrossInterleavings runs mixed mutation sequences and
// checks the unread invariant after every step.
func TestInvariantAcrossInterleavings(t *testing.T) {
	type step func(*Store)
	steps := map[string]step{
		"snapshot": func(s *Store) {
			s.ReplaceSnapshot([]Notification{item("n1", false), item("n2", true)})
		},
		"push":      func(s *Store) { s.ReceivePush(item("n3", false)) },
		"push-dup":  func(s *Store) { s.ReceivePush(item("n1", false)) },
		"mark":      func(s *Store) { s.MarkRead("n1") },
		"mark-miss": func(s *Store) { s.MarkRead("nope") },
		"revert":    func(s *Store) { s.RevertRead("n1") },
	}
	orders := [][]string{
		{"snapshot", "push", "mark", "revert", "push-dup"},
		{"push", "snapshot", "mark", "mark", "revert"},
		{"mark", "push", "push-dup", "snapshot", "revert", "mark-miss"},
	}
	for i, order := range orders {
		t.Run(fmt.Sprintf("order%d", i), func(t *testing.T) {
			s := NewStore("9", nil, nil)
			for _, name := range order {
				steps[name](s)
				checkInvariant(t, s)
			}
		})
	}
}
