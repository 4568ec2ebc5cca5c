package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"rentsync/internal/bus"
)

// Notification is one item in a user's notification feed.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Payload   map[string]any
	IsRead    bool
	CreatedAt time.Time
}

// Store holds the notification list and its unread counter for one user.
//
// Invariant: Unread() always equals the number of items with
// IsRead == false. Every mutation path (snapshot replace, push insert,
// optimistic mark-read and its rollback) goes through this one type so
// the counter can never drift from the list.
type Store struct {
	mu     sync.Mutex
	userID string
	items  []Notification
	unread int

	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates an empty feed for the given user.
func NewStore(userID string, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{userID: userID, bus: b, logger: logger}
}

// UserID returns the feed owner.
func (s *Store) UserID() string { return s.userID }

// ReplaceSnapshot replaces the list with a fetched snapshot and
// recomputes the unread counter from scratch.
func (s *Store) ReplaceSnapshot(items []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]Notification, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	s.unread = 0
	for _, n := range items {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		s.items = append(s.items, n)
		if !n.IsRead {
			s.unread++
		}
	}
	s.publishChanged()
}

// ReceivePush prepends a pushed notification. Idempotent on id, since
// the same item can arrive through both the snapshot and the socket.
// Reports whether the list changed.
func (s *Store) ReceivePush(n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexByID(n.ID) >= 0 {
		return false
	}
	s.items = append([]Notification{n}, s.items...)
	if !n.IsRead {
		s.unread++
	}
	s.publishChanged()
	return true
}

// MarkRead optimistically flips one item to read and decrements the
// counter. Reports whether anything changed: marking an already-read
// or unknown item is a no-op, so a rejected network call for it has
// nothing to roll back.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(id)
	if i < 0 || s.items[i].IsRead {
		return false
	}
	s.items[i].IsRead = true
	if s.unread > 0 {
		s.unread--
	}
	s.publishChanged()
	return true
}

// RevertRead rolls back a MarkRead after the server rejected it.
func (s *Store) RevertRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(id)
	if i < 0 || !s.items[i].IsRead {
		return
	}
	s.items[i].IsRead = false
	s.unread++
	s.publishChanged()
}

// Unread returns the current unread counter.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// UnreadIDs returns the ids of all currently-unread items, newest first.
func (s *Store) UnreadIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, n := range s.items {
		if !n.IsRead {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Items returns a copy of the notification list.
func (s *Store) Items() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.items...)
}

func (s *Store) indexByID(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// publishChanged is called with s.mu held.
func (s *Store) publishChanged() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      "notify.changed",
		Timestamp: time.Now(),
		Payload:   map[string]int{"unread": s.unread},
	})
}
