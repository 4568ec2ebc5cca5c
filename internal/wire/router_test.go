package wire

import (
	"context"
	"testing"
	"time"

	"rentsync/internal/bus"
	"rentsync/internal/channel"
	"rentsync/internal/convo"
	"rentsync/internal/notify"
)

func publishFrame(b *bus.Bus, scope channel.Scope, data string) {
	b.Publish(bus.Event{
		Kind:      "channel.frame",
		Timestamp: time.Now(),
		Payload:   channel.Frame{Scope: scope, Data: []byte(data)},
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestRouterDeliversChatFrames(t *testing.T) {
	b := bus.New()
	st := convo.NewStore("42", "7", "1", b, nil)

	r := NewRouter(b, nil)
	r.Attach(st.Key(), st)
	r.Start(context.Background())
	defer r.Stop()

	publishFrame(b, channel.Conversation("42", "7"),
		`{"id":"m1","sender_id":"7","receiver_id":"1","content":"hi","sent_at":"2026-03-01T12:00:00Z"}`)

	waitFor(t, func() bool { return len(st.Messages()) == 1 })
	got := st.Messages()[0]
	if got.ID != "m1" || got.Content != "hi" {
		t.Errorf("message = %+v", got)
	}
	if got.ListingID != "42" {
		t.Errorf("listing = %q, want filled from scope", got.ListingID)
	}
}

func TestRouterDeliversPresence(t *testing.T) {
	b := bus.New()
	st := convo.NewStore("42", "7", "1", b, nil)

	r := NewRouter(b, nil)
	r.Attach(st.Key(), st)
	r.Start(context.Background())
	defer r.Stop()

	publishFrame(b, channel.Conversation("42", "7"), `{"type":"presence","online":true}`)

	waitFor(t, func() bool { return st.Summary().IsOnline })
}

func TestRouterDeliversNotifications(t *testing.T) {
	b := bus.New()
	feed := notify.NewStore("9", b, nil)

	r := NewRouter(b, nil)
	r.SetNotificationSink(feed)
	r.Start(context.Background())
	defer r.Stop()

	publishFrame(b, channel.Notifications("9"),
		`{"id":"n1","type":"booking_request","title":"New booking request","message":"hi"}`)

	waitFor(t, func() bool { return feed.Unread() == 1 })
	if got := feed.Items()[0]; got.UserID != "9" {
		t.Errorf("user = %q, want filled from scope", got.UserID)
	}
}

func TestRouterDropsMalformedAndUnknown(t *testing.T) {
	b := bus.New()
	st := convo.NewStore("42", "7", "1", b, nil)
	feed := notify.NewStore("9", b, nil)

	r := NewRouter(b, nil)
	r.Attach(st.Key(), st)
	r.SetNotificationSink(feed)
	r.Start(context.Background())
	defer r.Stop()

	publishFrame(b, channel.Conversation("42", "7"), `{"content":`)
	publishFrame(b, channel.Conversation("42", "7"), `{"type":"typing"}`)
	publishFrame(b, channel.Notifications("9"), `not json`)
	// A valid frame after the garbage proves the loop survived it.
	publishFrame(b, channel.Conversation("42", "7"),
		`{"id":"m1","sender_id":"7","content":"still here"}`)

	waitFor(t, func() bool { return len(st.Messages()) == 1 })
	if got := feed.Unread(); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
}

func TestRouterDropsFramesForDetachedScope(t *testing.T) {
	b := bus.New()
	st := convo.NewStore("42", "7", "1", b, nil)

	r := NewRouter(b, nil)
	r.Attach(st.Key(), st)
	r.Start(context.Background())
	defer r.Stop()

	r.Detach(st.Key())
	publishFrame(b, channel.Conversation("42", "7"), `{"id":"m1","sender_id":"7","content":"hi"}`)
	// Other scopes with no attached store are dropped too.
	publishFrame(b, channel.Conversation("99", "8"), `{"id":"m2","sender_id":"8","content":"hi"}`)

	time.Sleep(50 * time.Millisecond)
	if got := len(st.Messages()); got != 0 {
		t.Errorf("len = %d, want 0 after detach", got)
	}
}
