// Package daemon composes the messaging core into a runnable process: one
// broker connection per channel, the REST client with token refresh, the
// local cache and the channel services, wired through fx.
package daemon

import (
	"context"
	"net/http"

	"github.com/lucasmrqs/freelink/internal/broker"
	"github.com/lucasmrqs/freelink/internal/bus"
	"github.com/lucasmrqs/freelink/internal/chat"
	"github.com/lucasmrqs/freelink/internal/config"
	"github.com/lucasmrqs/freelink/internal/inbox"
	"github.com/lucasmrqs/freelink/internal/lock"
	"github.com/lucasmrqs/freelink/internal/logging"
	"github.com/lucasmrqs/freelink/internal/match"
	"github.com/lucasmrqs/freelink/internal/notify"
	"github.com/lucasmrqs/freelink/internal/profile"
	"github.com/lucasmrqs/freelink/internal/rest"
	"github.com/lucasmrqs/freelink/internal/status"
	"github.com/lucasmrqs/freelink/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Conns bundles the per-channel broker connections. Each channel owns one
// upgraded connection and one state machine; they never share a socket.
type Conns struct {
	Chat   *broker.Conn
	Match  *broker.Conn
	Notify *broker.Conn
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideTokens,
			provideHTTPClient,
			provideRESTClient,
			provideConns,
			provideInbox,
			provideChatService,
			provideMatchService,
			provideNotifyService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.AppDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokens(cfg *config.Config, logger *zap.Logger) *rest.TokenSource {
	return rest.NewTokenSource(cfg.API.BaseURL+"/auth/refresh", cfg.Auth.AccessToken, cfg.Auth.RefreshToken, nil, logger)
}

func provideHTTPClient(ts *rest.TokenSource) *http.Client {
	return &http.Client{Transport: &rest.Transport{Tokens: ts}}
}

func provideRESTClient(cfg *config.Config, hc *http.Client, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.API.BaseURL, hc, logger)
}

func provideConns(cfg *config.Config, ts *rest.TokenSource, b *bus.Bus, logger *zap.Logger) *Conns {
	// Resolved per dial, so a reconnect after token expiry carries the
	// refreshed cookie instead of the one the process started with.
	header := func() http.Header {
		h := http.Header{}
		token, err := ts.Token(context.Background())
		if err != nil {
			logger.Warn("no access token for broker handshake", zap.Error(err))
			return h
		}
		h.Set("Cookie", "ACCESS_TOKEN="+token)
		return h
	}

	newConn := func(channel string) *broker.Conn {
		return broker.New(broker.Options{
			URL:               cfg.Broker.URL,
			Channel:           channel,
			Header:            header,
			HeartbeatInterval: cfg.HeartbeatInterval(),
			ReconnectDelay:    cfg.ReconnectDelay(),
		}, status.NewMachine(channel, b), logger)
	}
	return &Conns{
		Chat:   newConn("chat"),
		Match:  newConn("match"),
		Notify: newConn("notify"),
	}
}

func provideInbox() *inbox.Inbox {
	return inbox.New()
}

func provideChatService(conns *Conns, rc *rest.Client, cfg *config.Config, b *bus.Bus, in *inbox.Inbox, db *store.DB, logger *zap.Logger) *chat.Service {
	return chat.NewService(conns.Chat, rc, b, in, db, cfg.Auth.UserID, cfg.AckTimeout(), logger)
}

func provideMatchService(conns *Conns, b *bus.Bus, logger *zap.Logger) *match.Service {
	return match.NewService(conns.Match, b, logger)
}

func provideNotifyService(conns *Conns, rc *rest.Client, b *bus.Bus, db *store.DB, logger *zap.Logger) *notify.Service {
	return notify.NewService(conns.Notify, rc, b, db, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	conns *Conns,
	rc *rest.Client,
	in *inbox.Inbox,
	db *store.DB,
	chatSvc *chat.Service,
	matchSvc *match.Service,
	notifySvc *notify.Service,
	lk *lock.Lock,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			chatSvc.Start(context.Background())
			matchSvc.Start()
			notifySvc.Start()

			// The chat connection is held for the daemon's lifetime; match
			// and notify hold their own references from Start.
			conns.Chat.Acquire()

			// Bootstrap the inbox from the server in the background so a
			// slow API never blocks startup.
			go bootstrap(rc, in, db, cfg.Chat.PageSize, logger)

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			chatSvc.Stop()
			matchSvc.Stop()
			notifySvc.Stop()
			conns.Chat.Release()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// bootstrap seeds the inbox and the local cache with the first page of
// conversation summaries.
func bootstrap(rc *rest.Client, in *inbox.Inbox, db *store.DB, pageSize int, logger *zap.Logger) {
	page, err := rc.Conversations(context.Background(), 0, pageSize)
	if err != nil {
		logger.Warn("conversation bootstrap failed", zap.Error(err))
		return
	}
	in.Load(page.Content)
	for i := range page.Content {
		if err := db.UpsertConversation(&page.Content[i]); err != nil {
			logger.Warn("cache conversation", zap.Error(err), zap.Int64("id", page.Content[i].ID))
		}
	}
	logger.Info("inbox bootstrapped", zap.Int("conversations", len(page.Content)))
}
