package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rentsync/internal/convo"
	"rentsync/internal/notify"
)

// flexID decodes a JSON id that the server sends either as a string or
// as a bare number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// messageFrame mirrors the inbound chat frame. Everything except the
// content is optional on the wire.
type messageFrame struct {
	ID         flexID     `json:"id"`
	Type       string     `json:"type"`
	Content    string     `json:"content"`
	ListingID  flexID     `json:"listing_id"`
	SenderID   flexID     `json:"sender_id"`
	ReceiverID flexID     `json:"receiver_id"`
	IsRead     *bool      `json:"is_read"`
	SentAt     *time.Time `json:"sent_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

// ParseMessage normalizes a raw chat frame. Partially malformed
// payloads never reach a store mutation un-defaulted: a missing id is
// generated locally and missing timestamps fall back to the receipt
// time, so downstream code can rely on every field being set.
func ParseMessage(data []byte, now time.Time) (convo.Message, error) {
	var f messageFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return convo.Message{}, fmt.Errorf("decode message frame: %w", err)
	}

	m := convo.Message{
		ID:         string(f.ID),
		ListingID:  string(f.ListingID),
		SenderID:   string(f.SenderID),
		ReceiverID: string(f.ReceiverID),
		Content:    f.Content,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if f.SentAt != nil {
		m.SentAt = *f.SentAt
	} else {
		m.SentAt = now
	}
	if f.UpdatedAt != nil {
		m.UpdatedAt = *f.UpdatedAt
	} else {
		m.UpdatedAt = m.SentAt
	}
	if f.IsRead != nil {
		m.IsRead = *f.IsRead
	}
	return m, nil
}

// notificationFrame mirrors the inbound notification frame.
type notificationFrame struct {
	ID        flexID         `json:"id"`
	UserID    flexID         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
	IsRead    *bool          `json:"is_read"`
	CreatedAt *time.Time     `json:"created_at"`
}

// ParseNotification normalizes a raw notification frame with the same
// defaulting rules as ParseMessage.
func ParseNotification(data []byte, now time.Time) (notify.Notification, error) {
	var f notificationFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return notify.Notification{}, fmt.Errorf("decode notification frame: %w", err)
	}

	n := notify.Notification{
		ID:      string(f.ID),
		UserID:  string(f.UserID),
		Type:    f.Type,
		Title:   f.Title,
		Message: f.Message,
		Payload: f.Payload,
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if f.CreatedAt != nil {
		n.CreatedAt = *f.CreatedAt
	} else {
		n.CreatedAt = now
	}
	if f.IsRead != nil {
		n.IsRead = *f.IsRead
	}
	return n, nil
}

// Command is the outbound command frame for a chat send.
type Command struct {
	Content    string `json:"content"`
	ListingID  string `json:"listing_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

// Encode serializes the command for the wire.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}
