// Package notify is the notification channel service: a push stream from the
// user-scoped queue plus REST-paged history, with fire-and-forget seen/read
// reconciliation.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lucasmrqs/freelink/internal/broker"
	"github.com/lucasmrqs/freelink/internal/bus"
	"github.com/lucasmrqs/freelink/internal/rest"
	"github.com/lucasmrqs/freelink/internal/store"
	"go.uber.org/zap"
)

// Broker destinations. DestUser is authoritative. DestBroadcast is a
// non-scoped queue watched only to detect server misrouting: frames arriving
// there are logged and never merged into application state.
const (
	DestUser      = "/user/queue/notifications"
	DestBroadcast = "/queue/notifications"
)

// Conn is the broker surface the service needs.
type Conn interface {
	Acquire()
	Release()
	Subscribe(destination string, h broker.Handler) func()
}

// API is the REST surface the service needs.
type API interface {
	Notifications(ctx context.Context, page, size int, status string) (*rest.Page[store.Notification], error)
	MarkNotificationSeen(ctx context.Context, id int64) error
	MarkNotificationsRead(ctx context.Context, ids []int64) error
	NotificationClick(ctx context.Context, id int64) error
}

// Service holds the notification subscriptions for the whole session.
// Mark-seen and mark-read apply locally first and do not roll back when the
// server call fails; the next history fetch reconverges.
type Service struct {
	conn   Conn
	api    API
	bus    *bus.Bus
	db     *store.DB // optional local cache
	logger *zap.Logger
	unsubs []func()
}

// NewService creates the notification service. db may be nil.
func NewService(conn Conn, api API, b *bus.Bus, db *store.DB, logger *zap.Logger) *Service {
	return &Service{conn: conn, api: api, bus: b, db: db, logger: logger}
}

// Start connects eagerly and subscribes to both queues.
func (s *Service) Start() {
	s.unsubs = append(s.unsubs,
		s.conn.Subscribe(DestUser, s.handleUser),
		s.conn.Subscribe(DestBroadcast, s.handleBroadcast),
	)
	s.conn.Acquire()
}

// Stop releases the service's hold on the connection.
func (s *Service) Stop() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.conn.Release()
}

func (s *Service) handleUser(body []byte) {
	var n store.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.logger.Warn("dropping malformed notification frame", zap.Error(err))
		return
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().UnixMilli()
	}
	s.cache(&n)
	s.bus.Publish(bus.Event{Kind: bus.KindNotifyEvent, Payload: &n})
}

// handleBroadcast logs frames from the non-scoped queue for diagnostics.
// They never reach the bus or the cache.
func (s *Service) handleBroadcast(body []byte) {
	s.logger.Warn("frame on broadcast notification queue, ignoring",
		zap.ByteString("body", body))
}

// History fetches one page of notification history and caches it.
func (s *Service) History(ctx context.Context, page, size int, status string) (*rest.Page[store.Notification], error) {
	out, err := s.api.Notifications(ctx, page, size, status)
	if err != nil {
		return nil, err
	}
	for i := range out.Content {
		s.cache(&out.Content[i])
	}
	return out, nil
}

// MarkSeen stamps a notification seen locally and tells the server.
// Fire-and-forget: a server failure is logged, not rolled back.
func (s *Service) MarkSeen(ctx context.Context, id int64) {
	if s.db != nil {
		if err := s.db.MarkNotificationSeen(id); err != nil {
			s.logger.Warn("cache mark-seen", zap.Error(err), zap.Int64("id", id))
		}
	}
	if err := s.api.MarkNotificationSeen(ctx, id); err != nil {
		s.logger.Warn("server mark-seen failed", zap.Error(err), zap.Int64("id", id))
	}
}

// MarkRead stamps notifications read (and therefore seen) locally and tells
// the server. Fire-and-forget like MarkSeen.
func (s *Service) MarkRead(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if s.db != nil {
		if err := s.db.MarkNotificationsRead(ids); err != nil {
			s.logger.Warn("cache mark-read", zap.Error(err))
		}
	}
	if err := s.api.MarkNotificationsRead(ctx, ids); err != nil {
		s.logger.Warn("server mark-read failed", zap.Error(err), zap.Int("count", len(ids)))
	}
}

// Click records that the user followed a notification; clicking implies read.
func (s *Service) Click(ctx context.Context, id int64) {
	if s.db != nil {
		if err := s.db.MarkNotificationsRead([]int64{id}); err != nil {
			s.logger.Warn("cache click", zap.Error(err), zap.Int64("id", id))
		}
	}
	if err := s.api.NotificationClick(ctx, id); err != nil {
		s.logger.Warn("server click failed", zap.Error(err), zap.Int64("id", id))
	}
}

// Unseen returns the cached count of never-seen notifications.
func (s *Service) Unseen() int {
	if s.db == nil {
		return 0
	}
	n, err := s.db.UnseenNotificationCount()
	if err != nil {
		s.logger.Warn("unseen count", zap.Error(err))
		return 0
	}
	return n
}

func (s *Service) cache(n *store.Notification) {
	if s.db == nil {
		return
	}
	if err := s.db.UpsertNotification(n); err != nil {
		s.logger.Warn("cache notification", zap.Error(err), zap.Int64("id", n.ID))
	}
}
