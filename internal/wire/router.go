package wire

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"rentsync/internal/bus"
	"rentsync/internal/channel"
	"rentsync/internal/convo"
	"rentsync/internal/notify"
)

// ConversationSink receives routed chat traffic for one conversation.
// *convo.Store satisfies it.
type ConversationSink interface {
	ReceivePush(convo.Message) bool
	SetPresence(online bool)
}

// NotificationSink receives routed notification traffic.
// *notify.Store satisfies it.
type NotificationSink interface {
	ReceivePush(notify.Notification) bool
}

// Router consumes raw channel frames off the bus and dispatches each
// one to the store attached for its scope. It subscribes to
// "channel.frame" events and processes them on a single goroutine.
type Router struct {
	mu     sync.Mutex
	convs  map[string]ConversationSink
	feed   NotificationSink
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewRouter creates a router with no sinks attached.
func NewRouter(b *bus.Bus, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		convs:  make(map[string]ConversationSink),
		bus:    b,
		logger: logger,
	}
}

// SetNotificationSink binds the notification feed store.
func (r *Router) SetNotificationSink(feed NotificationSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feed = feed
}

// Attach binds a conversation store to its scope key. Frames for a
// scope with no attached store are dropped.
func (r *Router) Attach(key string, sink ConversationSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[key] = sink
}

// Detach unbinds a conversation store.
func (r *Router) Detach(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, key)
}

// Start subscribes to inbound channel frames on the bus.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	sub := r.bus.Subscribe("channel.frame", 256)

	go func() {
		defer sub.Close()
		for {
			select {
			case evt := <-sub.Events():
				r.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the router.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Router) handleEvent(evt bus.Event) {
	frame, ok := evt.Payload.(channel.Frame)
	if !ok {
		return
	}
	switch frame.Scope.Kind {
	case channel.KindConversation:
		r.handleConversation(frame)
	case channel.KindNotifications:
		r.handleNotification(frame)
	default:
		r.logger.Debug("frame for unknown scope kind ignored",
			zap.String("kind", string(frame.Scope.Kind)))
	}
}

func (r *Router) handleConversation(frame channel.Frame) {
	r.mu.Lock()
	sink := r.convs[frame.Scope.Key()]
	r.mu.Unlock()
	if sink == nil {
		r.logger.Debug("frame for unattached conversation dropped",
			zap.String("scope", frame.Scope.Key()))
		return
	}

	// Peek at the frame type without committing to a shape. Chat frames
	// usually carry no type field at all.
	var probe struct {
		Type   string `json:"type"`
		Online *bool  `json:"online"`
	}
	if err := json.Unmarshal(frame.Data, &probe); err != nil {
		r.logger.Warn("malformed conversation frame dropped",
			zap.String("scope", frame.Scope.Key()), zap.Error(err))
		return
	}

	switch probe.Type {
	case "", "message":
		m, err := ParseMessage(frame.Data, time.Now())
		if err != nil {
			r.logger.Warn("malformed message frame dropped",
				zap.String("scope", frame.Scope.Key()), zap.Error(err))
			return
		}
		if m.ListingID == "" {
			m.ListingID = frame.Scope.ListingID
		}
		sink.ReceivePush(m)
	case "presence":
		online := probe.Online != nil && *probe.Online
		sink.SetPresence(online)
	default:
		r.logger.Debug("conversation frame of unknown type ignored",
			zap.String("type", probe.Type))
	}
}

func (r *Router) handleNotification(frame channel.Frame) {
	r.mu.Lock()
	feed := r.feed
	r.mu.Unlock()
	if feed == nil {
		return
	}

	n, err := ParseNotification(frame.Data, time.Now())
	if err != nil {
		r.logger.Warn("malformed notification frame dropped",
			zap.String("scope", frame.Scope.Key()), zap.Error(err))
		return
	}
	if n.UserID == "" {
		n.UserID = frame.Scope.UserID
	}
	feed.ReceivePush(n)
}
