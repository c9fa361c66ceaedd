// Package chat is the chat channel service: optimistic local echo for sends,
// acknowledgement demultiplexing by temp id, REST history and mark-seen.
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lucasmrqs/freelink/internal/broker"
	"github.com/lucasmrqs/freelink/internal/bus"
	"github.com/lucasmrqs/freelink/internal/inbox"
	"github.com/lucasmrqs/freelink/internal/rest"
	"github.com/lucasmrqs/freelink/internal/store"
	"go.uber.org/zap"
)

// Broker destinations for the chat channel.
const (
	DestSend = "/app/chat/send"
	DestAck  = "/user/queue/ack"
)

const defaultAckTimeout = 20 * time.Second

// SendRequest is the outbound send body published to the broker.
type SendRequest struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	TempID         string `json:"tempId"`
}

// Conn is the broker surface the service needs.
type Conn interface {
	Connect()
	Publish(destination string, body []byte)
	Subscribe(destination string, h broker.Handler) func()
}

// API is the REST surface the service needs.
type API interface {
	Messages(ctx context.Context, conversationID int64, page, size int) (*rest.Page[store.Message], error)
	MarkSeen(ctx context.Context, conversationID int64) error
}

// NewTempID returns a fresh client-generated correlation id.
func NewTempID() string {
	return uuid.NewString()
}

// failedRetentionFactor bounds how long a FAILED send stays retryable, as a
// multiple of the ack timeout. After that the entry is evicted so abandoned
// sends do not accumulate for the whole session.
const failedRetentionFactor = 10

type pendingSend struct {
	req      SendRequest
	sentAt   time.Time
	failed   bool
	failedAt time.Time
}

// Service wraps the chat broker connection and REST endpoints. Sends are
// echoed locally as PENDING before anything touches the network; the matching
// acknowledgement overwrites the pending message, and a pending message that
// outlives the ack timeout transitions to FAILED with a retry path.
type Service struct {
	conn       Conn
	api        API
	bus        *bus.Bus
	inbox      *inbox.Inbox
	db         *store.DB // optional local cache
	logger     *zap.Logger
	userID     int64
	ackTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingSend
	unsub   func()
	cancel  context.CancelFunc
}

// NewService creates the chat service for the given user. db may be nil.
func NewService(conn Conn, api API, b *bus.Bus, in *inbox.Inbox, db *store.DB, userID int64, ackTimeout time.Duration, logger *zap.Logger) *Service {
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	return &Service{
		conn:       conn,
		api:        api,
		bus:        b,
		inbox:      in,
		db:         db,
		logger:     logger,
		userID:     userID,
		ackTimeout: ackTimeout,
		pending:    make(map[string]*pendingSend),
	}
}

// Start subscribes to the private ack queue and begins the pending-timeout
// scan. Must be called before SendMessage.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.unsub = s.conn.Subscribe(DestAck, s.handleAck)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.expirePending()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop detaches from the broker and stops the timeout scan.
func (s *Service) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// SendMessage publishes a send request to the broker after synchronously
// emitting the optimistic PENDING echo on the bus. There is no return value:
// success arrives asynchronously as a chat.ack event, failure as a
// chat.send_failed event after the ack timeout.
func (s *Service) SendMessage(req SendRequest, tempID string, senderID int64) {
	if req.Type == "" {
		req.Type = store.TypeText
	}
	req.TempID = tempID

	m := store.Message{
		TempID:         tempID,
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		ReceiverID:     0, // unknown until the ack
		Content:        req.Content,
		Type:           req.Type,
		Timestamp:      time.Now().UnixMilli(),
		Status:         store.StatusPending,
	}

	s.mu.Lock()
	s.pending[tempID] = &pendingSend{req: req, sentAt: time.Now()}
	s.mu.Unlock()

	s.cache(&m)
	s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Payload: &m})
	s.inbox.ApplyMessage(&m, s.userID)

	body, err := json.Marshal(req)
	if err != nil {
		s.logger.Error("encode send request", zap.Error(err))
		return
	}
	s.conn.Connect()
	s.conn.Publish(DestSend, body)
}

// Retry re-publishes a FAILED send under its original temp id. Failed sends
// are kept for a bounded window; retrying one that has been evicted returns
// false and the caller composes a fresh send instead.
func (s *Service) Retry(tempID string) bool {
	s.mu.Lock()
	p, ok := s.pending[tempID]
	if !ok || !p.failed {
		s.mu.Unlock()
		return false
	}
	p.failed = false
	p.sentAt = time.Now()
	p.failedAt = time.Time{}
	req := p.req
	s.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return false
	}
	s.conn.Connect()
	s.conn.Publish(DestSend, body)
	return true
}

// handleAck demultiplexes the private ack queue: a frame matching a pending
// temp id confirms our own message; anything else is a brand-new inbound
// message (it may have been sent from another device or view).
func (s *Service) handleAck(body []byte) {
	var m store.Message
	if err := json.Unmarshal(body, &m); err != nil {
		s.logger.Warn("dropping malformed ack frame", zap.Error(err))
		return
	}
	m.Status = store.StatusSent

	s.mu.Lock()
	_, own := s.pending[m.TempID]
	if own {
		delete(s.pending, m.TempID)
	}
	s.mu.Unlock()

	s.cache(&m)
	s.inbox.ApplyMessage(&m, s.userID)
	if own {
		s.bus.Publish(bus.Event{Kind: bus.KindChatAck, Payload: &m})
		return
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Payload: &m})
}

// expirePending fails every pending send older than the ack timeout and
// evicts FAILED entries that outlived the retention window without a retry.
func (s *Service) expirePending() {
	now := time.Now()
	cutoff := now.Add(-s.ackTimeout)
	evictCutoff := now.Add(-failedRetentionFactor * s.ackTimeout)

	s.mu.Lock()
	var expired []string
	for tempID, p := range s.pending {
		switch {
		case p.failed && p.failedAt.Before(evictCutoff):
			delete(s.pending, tempID)
		case !p.failed && p.sentAt.Before(cutoff):
			p.failed = true
			p.failedAt = now
			expired = append(expired, tempID)
		}
	}
	s.mu.Unlock()

	for _, tempID := range expired {
		s.logger.Warn("send not acknowledged in time", zap.String("temp_id", tempID))
		s.bus.Publish(bus.Event{Kind: bus.KindChatSendFailed, Payload: tempID})
	}
}

// History fetches one page of a conversation's messages. Pages come back in
// the server's newest-first order; history.NormalizeAscending is the single
// normalization point before display.
func (s *Service) History(ctx context.Context, conversationID int64, page, size int) (*rest.Page[store.Message], error) {
	out, err := s.api.Messages(ctx, conversationID, page, size)
	if err != nil {
		return nil, err
	}
	for i := range out.Content {
		out.Content[i].Status = store.StatusSent
		s.cache(&out.Content[i])
	}
	return out, nil
}

// MarkSeen reconciles seen state with the server, then zeroes the local
// unread counter. The counter is deliberately not touched before the
// round-trip succeeds.
func (s *Service) MarkSeen(ctx context.Context, conversationID int64) error {
	if err := s.api.MarkSeen(ctx, conversationID); err != nil {
		return err
	}
	s.inbox.ResetUnread(conversationID)
	if s.db != nil {
		if err := s.db.ResetUnread(conversationID); err != nil {
			s.logger.Warn("reset cached unread", zap.Error(err))
		}
		if err := s.db.MarkConversationSeen(conversationID); err != nil {
			s.logger.Warn("mark cached messages seen", zap.Error(err))
		}
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatSeen, Payload: conversationID})
	return nil
}

func (s *Service) cache(m *store.Message) {
	if s.db == nil {
		return
	}
	if err := s.db.UpsertMessage(m); err != nil {
		s.logger.Warn("cache message", zap.Error(err), zap.String("temp_id", m.TempID))
	}
}
