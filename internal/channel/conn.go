package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"rentsync/internal/auth"
	"rentsync/internal/bus"
	"rentsync/internal/status"
)

// ErrNotConnected is returned by Send when the channel is not open.
// The transport makes at most one send attempt; retrying the user
// action (or falling back to REST) is the caller's job.
var ErrNotConnected = errors.New("channel: not connected")

// ErrNoCredential is returned when connecting without a credential.
var ErrNoCredential = errors.New("channel: no credential available")

// maxReconnects caps the reconnect policy. After the cap the channel
// stays Closed and publishes "channel.down" instead of retrying forever.
const maxReconnects = 5

// Frame is the payload of "channel.frame" bus events: one raw inbound
// frame tagged with the scope it arrived on.
type Frame struct {
	Scope Scope
	Data  []byte
}

// Options configures a Conn.
type Options struct {
	// Base is the websocket origin, e.g. "wss://api.example.com".
	Base   string
	Dialer Dialer
	Tokens auth.TokenProvider
	Bus    *bus.Bus
	Logger *zap.Logger
	// Backoff overrides the reconnect delay per attempt (1-based).
	// Nil uses the default exponential schedule.
	Backoff func(attempt int) time.Duration
}

// Conn owns one persistent connection for one scope. It maintains the
// Idle/Connecting/Open/Closing/Closed lifecycle and transparently
// recovers from unclean closes with capped exponential backoff.
//
// A Conn is bound to its scope for life; switching scopes means
// destroying the Conn and creating a new one (see session.Manager).
type Conn struct {
	scope   Scope
	base    string
	dialer  Dialer
	tokens  auth.TokenProvider
	bus     *bus.Bus
	logger  *zap.Logger
	machine *status.Machine
	backoff func(int) time.Duration

	mu      sync.Mutex
	sock    Socket
	retries int
	gen     int // connection generation; bumping it orphans stale sockets and timers
	timer   *time.Timer
	cancel  context.CancelFunc
}

// New creates a connection bound to the given scope. It does not dial.
func New(scope Scope, opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = backoffDelay
	}
	return &Conn{
		scope:   scope,
		base:    opts.Base,
		dialer:  dialer,
		tokens:  opts.Tokens,
		bus:     opts.Bus,
		logger:  logger,
		machine: status.NewMachine(opts.Bus, scope.Key()),
		backoff: backoff,
	}
}

// Scope returns the scope this connection is bound to.
func (c *Conn) Scope() Scope { return c.scope }

// State returns the current lifecycle state.
func (c *Conn) State() status.State { return c.machine.Current() }

// Connect starts dialing. It is idempotent: a second call while
// Connecting or Open is a no-op. Connecting without a credential is
// also a no-op apart from the returned sentinel.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.machine.Current() {
	case status.Connecting, status.Open:
		return nil
	}

	token := c.tokens.Token()
	if token == "" {
		c.logger.Warn("connect without credential", zap.String("scope", c.scope.Key()))
		return ErrNoCredential
	}

	if err := c.machine.Transition(status.Connecting); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.gen++
	go c.dial(ctx, c.gen, token)
	return nil
}

func (c *Conn) dial(ctx context.Context, gen int, token string) {
	sock, err := c.dialer.Dial(ctx, c.scope.URL(c.base, token), c.scope.Header(token))

	c.mu.Lock()
	if gen != c.gen {
		// Disconnected (or replaced) while the dial was in flight.
		c.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("dial failed",
			zap.String("scope", c.scope.Key()),
			zap.Error(err))
		_ = c.machine.Transition(status.Closed)
		c.scheduleReconnectLocked(ctx)
		c.mu.Unlock()
		return
	}
	c.sock = sock
	c.retries = 0
	_ = c.machine.Transition(status.Open)
	c.mu.Unlock()

	c.logger.Info("channel open", zap.String("scope", c.scope.Key()))
	c.readLoop(ctx, sock, gen)
}

func (c *Conn) readLoop(ctx context.Context, sock Socket, gen int) {
	for {
		data, err := sock.Read(ctx)
		if err != nil {
			break
		}
		if c.bus != nil {
			c.bus.Publish(bus.Event{
				Kind:      "channel.frame",
				Timestamp: time.Now(),
				Payload:   Frame{Scope: c.scope, Data: data},
			})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// Clean close: Disconnect already drove the state machine.
		return
	}
	c.sock = nil
	c.logger.Warn("channel closed by transport", zap.String("scope", c.scope.Key()))
	_ = c.machine.Transition(status.Closed)
	c.scheduleReconnectLocked(ctx)
}

// scheduleReconnectLocked implements the reconnect policy. Caller holds c.mu.
func (c *Conn) scheduleReconnectLocked(ctx context.Context) {
	c.retries++
	if c.retries > maxReconnects {
		c.logger.Error("reconnect attempts exhausted",
			zap.String("scope", c.scope.Key()),
			zap.Int("attempts", maxReconnects))
		if c.bus != nil {
			c.bus.Publish(bus.Event{
				Kind:      "channel.down",
				Timestamp: time.Now(),
				Payload:   c.scope.Key(),
			})
		}
		return
	}

	delay := c.backoff(c.retries)
	gen := c.gen
	c.logger.Info("scheduling reconnect",
		zap.String("scope", c.scope.Key()),
		zap.Int("attempt", c.retries),
		zap.Duration("delay", delay))

	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.machine.Current() != status.Closed {
			return
		}
		token := c.tokens.Token()
		if token == "" {
			c.logger.Warn("credential gone, abandoning reconnect",
				zap.String("scope", c.scope.Key()))
			return
		}
		if err := c.machine.Transition(status.Connecting); err != nil {
			return
		}
		c.gen++
		go c.dial(ctx, c.gen, token)
	})
}

// Disconnect tears the connection down and returns the machine to Idle.
// Idempotent; pending reconnect timers are cancelled so no stale dial
// can fire against a released scope.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.retries = 0

	switch c.machine.Current() {
	case status.Open, status.Connecting:
		_ = c.machine.Transition(status.Closing)
		if c.sock != nil {
			_ = c.sock.Close()
			c.sock = nil
		}
		_ = c.machine.Transition(status.Idle)
	case status.Closed:
		_ = c.machine.Transition(status.Idle)
	}
}

// Send transmits one command frame. Only valid while Open; otherwise
// the command is dropped and ErrNotConnected tells the caller to
// surface the failure or fall back to REST.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	sock := c.sock
	open := c.machine.Current() == status.Open
	c.mu.Unlock()

	if !open || sock == nil {
		return ErrNotConnected
	}
	return sock.Write(ctx, payload)
}

// backoffDelay is the default reconnect schedule: 2, 4, 8, 16, 32
// seconds for attempts 1 through 5.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}
