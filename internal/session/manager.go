package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"rentsync/internal/auth"
	"rentsync/internal/bus"
	"rentsync/internal/channel"
	"rentsync/internal/convo"
	"rentsync/internal/dispatch"
	"rentsync/internal/wire"
)

// ErrNoConversation is returned by conversation operations when no
// conversation is open.
var ErrNoConversation = errors.New("session: no open conversation")

// Options configures a Manager.
type Options struct {
	SelfID  string
	WSBase  string
	Dialer  channel.Dialer
	Tokens  auth.TokenProvider
	Bus     *bus.Bus
	Logger  *zap.Logger
	Backoff func(attempt int) time.Duration
}

// Manager owns the active conversation: its store, its channel
// connection and its routing binding. At most one conversation is open
// at a time; opening another one always tears the previous one down
// first, so a released scope can never keep receiving frames or
// redialing in the background.
type Manager struct {
	opts       Options
	logger     *zap.Logger
	router     *wire.Router
	dispatcher *dispatch.Dispatcher

	mu    sync.Mutex
	store *convo.Store
	conn  *channel.Conn
}

// NewManager creates a manager with no open conversation.
func NewManager(opts Options, router *wire.Router, d *dispatch.Dispatcher) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opts:       opts,
		logger:     logger,
		router:     router,
		dispatcher: d,
	}
}

// Open switches the active conversation to (listingID, partnerID).
// Opening the conversation that is already open is a no-op. Any
// previously open conversation is fully torn down first: its routing
// binding is removed and its channel disconnected before the new scope
// connects. The history snapshot is loaded after the channel starts
// connecting; a snapshot failure leaves the conversation open with
// whatever the socket delivers.
func (m *Manager) Open(ctx context.Context, listingID, partnerID string) (*convo.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := convo.Key(listingID, partnerID)
	if m.store != nil && m.store.Key() == key {
		return m.store, nil
	}
	m.closeLocked()

	st := convo.NewStore(listingID, partnerID, m.opts.SelfID, m.opts.Bus, m.logger)
	m.router.Attach(key, st)

	conn := channel.New(channel.Conversation(listingID, partnerID), channel.Options{
		Base:    m.opts.WSBase,
		Dialer:  m.opts.Dialer,
		Tokens:  m.opts.Tokens,
		Bus:     m.opts.Bus,
		Logger:  m.logger,
		Backoff: m.opts.Backoff,
	})
	if err := conn.Connect(ctx); err != nil {
		m.router.Detach(key)
		return nil, err
	}
	m.store = st
	m.conn = conn
	m.logger.Info("conversation opened", zap.String("scope", key))

	if err := m.dispatcher.LoadHistory(ctx, st); err != nil {
		m.logger.Warn("history snapshot failed", zap.String("scope", key), zap.Error(err))
	}
	return st, nil
}

// Close tears down the active conversation, if any. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// closeLocked is called with m.mu held.
func (m *Manager) closeLocked() {
	if m.store == nil {
		return
	}
	key := m.store.Key()
	m.router.Detach(key)
	m.conn.Disconnect()
	m.store = nil
	m.conn = nil
	m.logger.Info("conversation closed", zap.String("scope", key))
}

// Store returns the active conversation store, or nil.
func (m *Manager) Store() *convo.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

// Send dispatches a message in the active conversation.
func (m *Manager) Send(ctx context.Context, content string) (string, error) {
	st, conn, err := m.active()
	if err != nil {
		return "", err
	}
	return m.dispatcher.SendMessage(ctx, st, conn, content)
}

// Edit dispatches an edit in the active conversation.
func (m *Manager) Edit(ctx context.Context, id, content string) error {
	st, _, err := m.active()
	if err != nil {
		return err
	}
	return m.dispatcher.EditMessage(ctx, st, id, content)
}

// MarkRead dispatches a read receipt in the active conversation.
func (m *Manager) MarkRead(ctx context.Context, id string) error {
	st, _, err := m.active()
	if err != nil {
		return err
	}
	return m.dispatcher.MarkMessageRead(ctx, st, id)
}

func (m *Manager) active() (*convo.Store, *channel.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil, nil, ErrNoConversation
	}
	return m.store, m.conn, nil
}
