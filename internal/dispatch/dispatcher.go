package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rentsync/internal/channel"
	"rentsync/internal/convo"
	"rentsync/internal/notify"
	"rentsync/internal/wire"
)

// API is the subset of the REST client the dispatcher drives.
type API interface {
	ChatHistory(ctx context.Context, senderID, receiverID string) ([]convo.Message, error)
	SendMessage(ctx context.Context, cmd wire.Command) (convo.Message, error)
	EditMessage(ctx context.Context, id, content string) (convo.Message, error)
	MarkMessageRead(ctx context.Context, id string) error
	Notifications(ctx context.Context, userID string) ([]notify.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// WireSender pushes an outbound frame over the live channel.
// *channel.Conn satisfies it.
type WireSender interface {
	Send(ctx context.Context, data []byte) error
}

// Dispatcher runs the outbound side of the sync layer: every user
// action is applied to the local store first and reconciled with the
// server's verdict, so the store never waits on the network and a
// rejection always rolls the optimistic change back.
type Dispatcher struct {
	api    API
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher on top of the REST API.
func NewDispatcher(api API, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{api: api, logger: logger}
}

// LoadHistory fetches the conversation snapshot and replaces the
// store's history with it.
func (d *Dispatcher) LoadHistory(ctx context.Context, st *convo.Store) error {
	msgs, err := d.api.ChatHistory(ctx, st.SelfID(), st.PartnerID())
	if err != nil {
		return err
	}
	st.ReplaceHistory(msgs)
	return nil
}

// SendMessage performs an optimistic send: the message appears in the
// history immediately under a local id. When the channel is open the
// frame goes over the socket and the server's echo confirms it through
// the push path; otherwise the REST endpoint is used and its response
// resolves the pending entry directly. A definitive failure marks the
// entry failed but keeps it visible for retry.
func (d *Dispatcher) SendMessage(ctx context.Context, st *convo.Store, conn WireSender, content string) (string, error) {
	localID := "local-" + uuid.NewString()
	now := time.Now()
	st.AppendPending(convo.Message{
		ID:         localID,
		ListingID:  st.ListingID(),
		SenderID:   st.SelfID(),
		ReceiverID: st.PartnerID(),
		Content:    content,
		SentAt:     now,
		UpdatedAt:  now,
	})

	cmd := wire.Command{
		Content:    content,
		ListingID:  st.ListingID(),
		SenderID:   st.SelfID(),
		ReceiverID: st.PartnerID(),
	}

	if conn != nil {
		frame, err := cmd.Encode()
		if err != nil {
			st.FailPending(localID)
			return localID, err
		}
		switch err := conn.Send(ctx, frame); {
		case err == nil:
			// Accepted by the socket; the server echo confirms the entry.
			return localID, nil
		case errors.Is(err, channel.ErrNotConnected):
			d.logger.Debug("channel closed, sending over rest",
				zap.String("conversation", st.Key()))
		default:
			st.FailPending(localID)
			return localID, err
		}
	}

	confirmed, err := d.api.SendMessage(ctx, cmd)
	if err != nil {
		st.FailPending(localID)
		return localID, err
	}
	st.ResolvePending(localID, confirmed)
	return confirmed.ID, nil
}

// EditMessage applies an edit optimistically and rolls the content back
// if the server rejects it.
func (d *Dispatcher) EditMessage(ctx context.Context, st *convo.Store, id, content string) error {
	prev, ok := st.ApplyEdit(id, content)
	if !ok {
		return errors.New("unknown message id")
	}

	confirmed, err := d.api.EditMessage(ctx, id, content)
	if err != nil {
		st.RevertEdit(id, prev)
		return err
	}
	st.ApplyServerCopy(confirmed)
	return nil
}

// MarkMessageRead flips a message's read flag optimistically, rolling
// back on rejection.
func (d *Dispatcher) MarkMessageRead(ctx context.Context, st *convo.Store, id string) error {
	wasRead, ok := st.MarkRead(id)
	if !ok || wasRead {
		return nil
	}
	if err := d.api.MarkMessageRead(ctx, id); err != nil {
		st.RevertRead(id, wasRead)
		return err
	}
	return nil
}

// RefreshNotifications fetches the notification snapshot and replaces
// the feed with it.
func (d *Dispatcher) RefreshNotifications(ctx context.Context, feed *notify.Store) error {
	items, err := d.api.Notifications(ctx, feed.UserID())
	if err != nil {
		return err
	}
	feed.ReplaceSnapshot(items)
	return nil
}

// MarkNotificationRead flips one notification optimistically, rolling
// back on rejection.
func (d *Dispatcher) MarkNotificationRead(ctx context.Context, feed *notify.Store, id string) error {
	if !feed.MarkRead(id) {
		return nil
	}
	if err := d.api.MarkNotificationRead(ctx, id); err != nil {
		feed.RevertRead(id)
		return err
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification, one call
// per item. Items whose call fails are reverted individually, so after
// a partial failure the feed reflects exactly the subset the server
// accepted. Returns the first error encountered.
func (d *Dispatcher) MarkAllNotificationsRead(ctx context.Context, feed *notify.Store) error {
	var firstErr error
	for _, id := range feed.UnreadIDs() {
		if err := d.MarkNotificationRead(ctx, feed, id); err != nil {
			d.logger.Warn("mark notification read failed",
				zap.String("id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
