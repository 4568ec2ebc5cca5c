package channel

import (
	"net/http"
	"net/url"
)

// Kind discriminates the two channel scopes the server exposes.
type Kind string

const (
	KindConversation  Kind = "conversation"
	KindNotifications Kind = "notifications"
)

// Scope is the identity tuple a connection is bound to: one
// conversation (listing + counterparty) or one user's notification feed.
type Scope struct {
	Kind      Kind
	ListingID string
	PartnerID string
	UserID    string
}

// Conversation returns the scope for a listing-bound conversation with
// the given counterparty.
func Conversation(listingID, partnerID string) Scope {
	return Scope{Kind: KindConversation, ListingID: listingID, PartnerID: partnerID}
}

// Notifications returns the scope for a user's notification feed.
func Notifications(userID string) Scope {
	return Scope{Kind: KindNotifications, UserID: userID}
}

// Key returns a stable identifier for the scope, used as the map key
// for routing and in status events.
func (s Scope) Key() string {
	if s.Kind == KindNotifications {
		return "user:" + s.UserID
	}
	return "listing:" + s.ListingID + ":partner:" + s.PartnerID
}

// URL builds the connect target. The conversation channel carries the
// credential as a query parameter; the notification channel passes it
// through the connect headers instead (see Header).
func (s Scope) URL(base, token string) string {
	if s.Kind == KindNotifications {
		return base + "/v1/users/" + url.PathEscape(s.UserID) + "/notifications/connect"
	}
	q := url.Values{"token": {token}}
	return base + "/v1/listings/" + url.PathEscape(s.ListingID) +
		"/chat/" + url.PathEscape(s.PartnerID) + "?" + q.Encode()
}

// Header returns the headers to attach to the connect request.
func (s Scope) Header(token string) http.Header {
	if s.Kind != KindNotifications || token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
