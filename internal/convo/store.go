package convo

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"rentsync/internal/bus"
)

// pendingMatchWindow bounds how far apart the local timestamp and the
// server echo's timestamp may be for content-based reconciliation.
const pendingMatchWindow = 2 * time.Minute

// Store holds the ordered message history for one conversation.
//
// The history is kept sorted by (sent_at, id) and never contains two
// messages with the same id, no matter how REST snapshots and push
// events interleave. Optimistic local sends live in the same slice as
// pending entries and are replaced in place once the server confirms
// them, either through ResolvePending (REST response) or through
// ReceivePush matching the server echo.
type Store struct {
	mu            sync.Mutex
	listingID     string
	partnerID     string
	selfID        string
	partnerName   string
	partnerAvatar string
	online        bool
	msgs          []Message

	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates an empty history for the (listing, partner)
// conversation as seen by selfID.
func NewStore(listingID, partnerID, selfID string, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		listingID: listingID,
		partnerID: partnerID,
		selfID:    selfID,
		bus:       b,
		logger:    logger,
	}
}

// ListingID returns the listing the conversation is bound to.
func (s *Store) ListingID() string { return s.listingID }

// PartnerID returns the counterparty user id.
func (s *Store) PartnerID() string { return s.partnerID }

// SelfID returns the local user id.
func (s *Store) SelfID() string { return s.selfID }

// Key returns the conversation key.
func (s *Store) Key() string { return Key(s.listingID, s.partnerID) }

// ReplaceHistory replaces the history with a fetched snapshot. Pending
// optimistic sends whose id is not in the snapshot are carried over;
// everything else is discarded in favor of the server's view.
func (s *Store) ReplaceHistory(snapshot []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Message, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		next = append(next, m)
	}
	sort.Slice(next, func(i, j int) bool { return before(next[i], next[j]) })

	for _, m := range s.msgs {
		if !m.Pending {
			continue
		}
		if _, confirmed := seen[m.ID]; confirmed {
			continue
		}
		next = append(next, m)
	}
	s.msgs = next
	s.publishUpserted("")
}

// ReceivePush ingests a server-pushed message. Idempotent on id; a push
// that matches a pending optimistic send by content and timestamp
// proximity confirms that entry in place instead of duplicating it.
// Reports whether the history changed.
func (s *Store) ReceivePush(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexByID(m.ID); i >= 0 {
		// Same id from both REST and socket: last write wins by timestamp.
		if newer(m, s.msgs[i]) {
			s.msgs[i] = m
			s.resort()
			s.publishUpserted(m.ID)
			return true
		}
		return false
	}

	if i := s.matchPending(m); i >= 0 {
		s.msgs[i] = m
		s.resort()
		s.publishUpserted(m.ID)
		return true
	}

	s.insert(m)
	s.publishUpserted(m.ID)
	return true
}

// AppendPending adds an optimistic local send.
func (s *Store) AppendPending(m Message) {
	m.Pending = true
	m.Failed = false
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexByID(m.ID) >= 0 {
		return
	}
	s.insert(m)
	s.publishUpserted(m.ID)
}

// ResolvePending replaces the pending entry identified by localID with
// the server-confirmed copy. If the server echo already arrived through
// the push path the stale pending entry is dropped instead, so the
// message is never visible twice.
func (s *Store) ResolvePending(localID string, confirmed Message) {
	confirmed.Pending = false
	confirmed.Failed = false
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(localID)
	if j := s.indexByID(confirmed.ID); j >= 0 && confirmed.ID != localID {
		if i >= 0 {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		}
		s.publishUpserted(confirmed.ID)
		return
	}
	if i < 0 {
		i = s.matchPending(confirmed)
	}
	if i < 0 {
		s.insert(confirmed)
	} else {
		s.msgs[i] = confirmed
		s.resort()
	}
	s.publishUpserted(confirmed.ID)
}

// FailPending flags a pending send the server rejected. The entry is
// kept so the user can see the failure and retry.
func (s *Store) FailPending(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexByID(localID); i >= 0 {
		s.msgs[i].Failed = true
		if s.bus != nil {
			s.bus.Publish(bus.Event{
				Kind:      "chat.message_failed",
				Timestamp: time.Now(),
				Payload:   map[string]string{"conversation": s.Key(), "id": localID},
			})
		}
	}
}

// ApplyEdit optimistically replaces a message's content, returning the
// prior content so a rejected edit can be rolled back.
func (s *Store) ApplyEdit(id, content string) (prev string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByID(id)
	if i < 0 {
		return "", false
	}
	prev = s.msgs[i].Content
	s.msgs[i].Content = content
	s.msgs[i].UpdatedAt = time.Now()
	s.publishUpserted(id)
	return prev, true
}

// RevertEdit restores the content captured by ApplyEdit.
func (s *Store) RevertEdit(id, prev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexByID(id); i >= 0 {
		s.msgs[i].Content = prev
		s.msgs[i].UpdatedAt = time.Now()
		s.publishUpserted(id)
	}
}

// ApplyServerCopy upserts the authoritative copy returned by the server
// after a successful mutation.
func (s *Store) ApplyServerCopy(m Message) {
	m.Pending = false
	m.Failed = false
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexByID(m.ID); i >= 0 {
		s.msgs[i] = m
		s.resort()
	} else {
		s.insert(m)
	}
	s.publishUpserted(m.ID)
}

// MarkRead optimistically flips a message's read flag, reporting the
// prior value for rollback.
func (s *Store) MarkRead(id string) (wasRead bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByID(id)
	if i < 0 {
		return false, false
	}
	wasRead = s.msgs[i].IsRead
	s.msgs[i].IsRead = true
	s.publishUpserted(id)
	return wasRead, true
}

// RevertRead restores the read flag captured by MarkRead.
func (s *Store) RevertRead(id string, wasRead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexByID(id); i >= 0 {
		s.msgs[i].IsRead = wasRead
		s.publishUpserted(id)
	}
}

// SetPresence records the counterparty's online flag.
func (s *Store) SetPresence(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
	s.publishUpserted("")
}

// SetPartner records the counterparty's display fields.
func (s *Store) SetPartner(name, avatar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partnerName = name
	s.partnerAvatar = avatar
}

// Messages returns a copy of the ordered history.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

// Summary recomputes the derived conversation record from the current
// history.
func (s *Store) Summary() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Conversation{
		ListingID:     s.listingID,
		PartnerID:     s.partnerID,
		PartnerName:   s.partnerName,
		PartnerAvatar: s.partnerAvatar,
		IsOnline:      s.online,
	}
	for _, m := range s.msgs {
		if !m.IsRead && m.SenderID == s.partnerID {
			c.UnreadCount++
		}
	}
	if n := len(s.msgs); n > 0 {
		last := s.msgs[n-1]
		c.LastMessage = last.Content
		c.LastUpdated = last.SentAt
	}
	return c
}

// indexByID returns the position of the message with the given id, or -1.
func (s *Store) indexByID(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// matchPending finds a pending entry that the given server copy
// plausibly confirms: same sender, same content, timestamps within the
// match window.
func (s *Store) matchPending(m Message) int {
	for i := range s.msgs {
		p := s.msgs[i]
		if !p.Pending || p.SenderID != m.SenderID || p.Content != m.Content {
			continue
		}
		d := m.SentAt.Sub(p.SentAt)
		if d < 0 {
			d = -d
		}
		if d <= pendingMatchWindow {
			return i
		}
	}
	return -1
}

// insert places m at its sorted position.
func (s *Store) insert(m Message) {
	i := sort.Search(len(s.msgs), func(i int) bool { return before(m, s.msgs[i]) })
	s.msgs = append(s.msgs, Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
}

func (s *Store) resort() {
	sort.SliceStable(s.msgs, func(i, j int) bool { return before(s.msgs[i], s.msgs[j]) })
}

// newer implements last-write-wins for the same message id when both
// REST and socket deliver a copy: later sent_at wins, then updated_at.
func newer(a, b Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.After(b.SentAt)
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// publishUpserted is called with s.mu held.
func (s *Store) publishUpserted(id string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      "chat.message_upserted",
		Timestamp: time.Now(),
		Payload:   map[string]string{"conversation": s.Key(), "id": id},
	})
}
