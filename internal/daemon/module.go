package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"rentsync/internal/auth"
	"rentsync/internal/bus"
	"rentsync/internal/channel"
	"rentsync/internal/config"
	"rentsync/internal/dispatch"
	"rentsync/internal/logging"
	"rentsync/internal/notify"
	"rentsync/internal/profile"
	"rentsync/internal/rest"
	"rentsync/internal/session"
	"rentsync/internal/status"
	"rentsync/internal/wire"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideTokens,
			provideRestClient,
			provideDispatcher,
			provideNotifyStore,
			provideRouter,
			provideNotificationFeed,
			provideSessionManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := profile.AcquireLock(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideTokens(p Params) auth.TokenProvider {
	return p.Config.TokenProvider()
}

func provideRestClient(p Params, tokens auth.TokenProvider, logger *zap.Logger) *rest.Client {
	return rest.NewClient(p.Config.APIBase, tokens, logger)
}

func provideDispatcher(client *rest.Client, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(client, logger)
}

func provideNotifyStore(p Params, b *bus.Bus, logger *zap.Logger) *notify.Store {
	return notify.NewStore(p.Config.UserID, b, logger)
}

func provideRouter(b *bus.Bus, feed *notify.Store, logger *zap.Logger) *wire.Router {
	r := wire.NewRouter(b, logger)
	r.SetNotificationSink(feed)
	return r
}

// provideNotificationFeed builds the long-lived connection for the
// user's notification channel. Conversation connections are short-lived
// and owned by the session manager instead.
func provideNotificationFeed(p Params, tokens auth.TokenProvider, b *bus.Bus, logger *zap.Logger) *channel.Conn {
	return channel.New(channel.Notifications(p.Config.UserID), channel.Options{
		Base:   p.Config.WSBase,
		Tokens: tokens,
		Bus:    b,
		Logger: logger,
	})
}

func provideSessionManager(p Params, tokens auth.TokenProvider, b *bus.Bus, logger *zap.Logger, router *wire.Router, d *dispatch.Dispatcher) *session.Manager {
	return session.NewManager(session.Options{
		SelfID: p.Config.UserID,
		WSBase: p.Config.WSBase,
		Tokens: tokens,
		Bus:    b,
		Logger: logger,
	}, router, d)
}

func registerLifecycle(lc fx.Lifecycle, lk *profile.Lock, router *wire.Router, feed *channel.Conn, feedStore *notify.Store, d *dispatch.Dispatcher, mgr *session.Manager, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the router (subscribes to channel.frame bus events).
			router.Start(context.Background())

			// Bring up the notification channel and load the snapshot.
			if err := feed.Connect(context.Background()); err != nil {
				logger.Warn("notification channel connect failed", zap.Error(err))
			}
			go func() {
				if err := d.RefreshNotifications(context.Background(), feedStore); err != nil {
					logger.Warn("notification snapshot failed", zap.Error(err))
				}
			}()

			// Log channel health transitions for operators.
			go watchStatus(b, logger)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Close()
			feed.Disconnect()
			router.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// watchStatus logs lifecycle transitions and channel.down alerts.
func watchStatus(b *bus.Bus, logger *zap.Logger) {
	sub := b.Subscribe("channel.", 64)
	defer sub.Close()
	for evt := range sub.Events() {
		switch evt.Kind {
		case "channel.status_changed":
			if ch, ok := evt.Payload.(status.Change); ok {
				logger.Info("channel status",
					zap.String("scope", ch.Scope),
					zap.String("from", string(ch.From)),
					zap.String("to", string(ch.To)))
			}
		case "channel.down":
			logger.Error("channel gave up reconnecting",
				zap.Any("scope", evt.Payload))
		}
	}
}
