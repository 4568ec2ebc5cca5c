package convo

import "time"

// Message is one chat message inside a conversation. Pending marks an
// optimistic local send that the server has not confirmed yet; Failed
// marks a send or edit the server rejected, kept visible so the user
// can retry instead of silently losing it.
type Message struct {
	ID         string
	ListingID  string
	SenderID   string
	ReceiverID string
	Content    string
	SentAt     time.Time
	UpdatedAt  time.Time
	IsRead     bool
	Pending    bool
	Failed     bool
}

// Key returns the conversation key for a listing/counterparty pair.
// It matches the channel scope key, so routing bindings and status
// events for one conversation share the same identifier.
func Key(listingID, partnerID string) string {
	return "listing:" + listingID + ":partner:" + partnerID
}

// Conversation is the derived summary of one message history, recomputed
// from the latest message rather than stored.
type Conversation struct {
	ListingID     string
	PartnerID     string
	PartnerName   string
	PartnerAvatar string
	LastMessage   string
	LastUpdated   time.Time
	UnreadCount   int
	IsOnline      bool
}

// before reports whether a sorts strictly before b in the history
// order: sent_at, then id as tie-break.
func before(a, b Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	return a.ID < b.ID
}
