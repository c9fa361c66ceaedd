package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lucasmrqs/freelink/internal/broker"
	"github.com/lucasmrqs/freelink/internal/bus"
	"github.com/lucasmrqs/freelink/internal/history"
	"github.com/lucasmrqs/freelink/internal/inbox"
	"github.com/lucasmrqs/freelink/internal/rest"
	"github.com/lucasmrqs/freelink/internal/store"
	"go.uber.org/zap"
)

// fakeConn records publishes and lets tests push frames to subscribers.
type fakeConn struct {
	mu        sync.Mutex
	connects  int
	publishes []publishCall
	handlers  map[string][]broker.Handler
}

type publishCall struct {
	Destination string
	Body        []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string][]broker.Handler)}
}

func (f *fakeConn) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeConn) Publish(destination string, body []byte) {
	f.mu.Lock()
	f.publishes = append(f.publishes, publishCall{destination, body})
	f.mu.Unlock()
}

func (f *fakeConn) Subscribe(destination string, h broker.Handler) func() {
	f.mu.Lock()
	f.handlers[destination] = append(f.handlers[destination], h)
	f.mu.Unlock()
	return func() {}
}

// deliver pushes a frame body to every handler on a destination.
func (f *fakeConn) deliver(destination string, body []byte) {
	f.mu.Lock()
	hs := append([]broker.Handler{}, f.handlers[destination]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(body)
	}
}

func (f *fakeConn) published() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall{}, f.publishes...)
}

func (f *fakeConn) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeAPI struct {
	mu       sync.Mutex
	pages    map[int]*rest.Page[store.Message]
	seen     []int64
	seenErr  error
	pagesErr error
}

func (f *fakeAPI) Messages(_ context.Context, _ int64, page, _ int) (*rest.Page[store.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pagesErr != nil {
		return nil, f.pagesErr
	}
	p, ok := f.pages[page]
	if !ok {
		return &rest.Page[store.Message]{TotalPages: len(f.pages)}, nil
	}
	return p, nil
}

func (f *fakeAPI) MarkSeen(_ context.Context, conversationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenErr != nil {
		return f.seenErr
	}
	f.seen = append(f.seen, conversationID)
	return nil
}

func testService(t *testing.T, conn Conn, api API) (*Service, *bus.Bus, *inbox.Inbox) {
	t.Helper()
	b := bus.New()
	in := inbox.New()
	s := NewService(conn, api, b, in, nil, 1, time.Minute, zap.NewNop())
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, b, in
}

func TestSendMessageOptimisticEcho(t *testing.T) {
	conn := newFakeConn()
	s, b, _ := testService(t, conn, &fakeAPI{})

	sub := b.Subscribe("chat.", 10)
	defer sub.Cancel()

	s.SendMessage(SendRequest{ConversationID: 7, Content: "hello"}, "abc-123", 1)

	// The optimistic echo is emitted synchronously.
	select {
	case evt := <-sub.C:
		if evt.Kind != bus.KindChatMessage {
			t.Fatalf("kind = %q, want %q", evt.Kind, bus.KindChatMessage)
		}
		m := evt.Payload.(*store.Message)
		if m.TempID != "abc-123" || m.Status != store.StatusPending {
			t.Errorf("echo = %+v, want PENDING with temp id abc-123", m)
		}
		if m.ReceiverID != 0 {
			t.Errorf("receiver = %d, want placeholder 0", m.ReceiverID)
		}
		if m.Timestamp == 0 {
			t.Error("echo missing client timestamp")
		}
	default:
		t.Fatal("no optimistic echo on the bus")
	}

	pubs := conn.published()
	if len(pubs) != 1 || pubs[0].Destination != DestSend {
		t.Fatalf("publishes = %+v, want one to %s", pubs, DestSend)
	}
	var req SendRequest
	if err := json.Unmarshal(pubs[0].Body, &req); err != nil {
		t.Fatal(err)
	}
	if req.TempID != "abc-123" || req.Content != "hello" || req.Type != store.TypeText {
		t.Errorf("wire request = %+v", req)
	}
	if conn.connectCount() == 0 {
		t.Error("send must ensure the transport is connected")
	}
}

func TestAckConfirmsOwnPendingMessage(t *testing.T) {
	conn := newFakeConn()
	s, b, _ := testService(t, conn, &fakeAPI{})

	s.SendMessage(SendRequest{ConversationID: 7, Content: "hello"}, "abc-123", 1)

	sub := b.Subscribe(bus.KindChatAck, 10)
	defer sub.Cancel()

	ack, _ := json.Marshal(store.Message{ID: 42, TempID: "abc-123", ConversationID: 7, SenderID: 1, ReceiverID: 2, Content: "hello", Timestamp: 1700000000000})
	conn.deliver(DestAck, ack)

	select {
	case evt := <-sub.C:
		m := evt.Payload.(*store.Message)
		if m.ID != 42 || m.Status != store.StatusSent || m.TempID != "abc-123" {
			t.Errorf("ack payload = %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for chat.ack")
	}
}

func TestAckWithoutPendingIsNewInbound(t *testing.T) {
	conn := newFakeConn()
	_, b, in := testService(t, conn, &fakeAPI{})

	sub := b.Subscribe(bus.KindChatMessage, 10)
	defer sub.Cancel()

	// Sent from another view/tab: no local pending entry.
	ack, _ := json.Marshal(store.Message{ID: 50, TempID: "elsewhere", ConversationID: 9, SenderID: 3, Content: "yo", Timestamp: 100})
	conn.deliver(DestAck, ack)

	select {
	case evt := <-sub.C:
		if evt.Kind != bus.KindChatMessage {
			t.Errorf("kind = %q, want chat.message", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for chat.message")
	}

	if got := in.Get(9); got == nil || got.UnreadCount != 1 {
		t.Errorf("inbound from other party must increment unread, got %+v", got)
	}
}

func TestPendingTimesOutToFailedAndRetries(t *testing.T) {
	conn := newFakeConn()
	b := bus.New()
	s := NewService(conn, &fakeAPI{}, b, inbox.New(), nil, 1, 50*time.Millisecond, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	sub := b.Subscribe(bus.KindChatSendFailed, 10)
	defer sub.Cancel()

	s.SendMessage(SendRequest{ConversationID: 7, Content: "lost"}, "gone-1", 1)

	select {
	case evt := <-sub.C:
		if evt.Payload.(string) != "gone-1" {
			t.Errorf("failed temp id = %v", evt.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for chat.send_failed")
	}

	if !s.Retry("gone-1") {
		t.Fatal("Retry should accept a failed temp id")
	}
	pubs := conn.published()
	if len(pubs) != 2 {
		t.Fatalf("got %d publishes, want 2 (original + retry)", len(pubs))
	}
	var req SendRequest
	_ = json.Unmarshal(pubs[1].Body, &req)
	if req.TempID != "gone-1" {
		t.Errorf("retry temp id = %q, want gone-1 (no renumbering)", req.TempID)
	}

	if s.Retry("never-sent") {
		t.Error("Retry of unknown temp id must be rejected")
	}
}

// A FAILED send that nobody retries is kept only for a bounded window, so
// abandoned sends do not pile up in the pending map for the whole session.
func TestFailedSendEvictedAfterRetention(t *testing.T) {
	conn := newFakeConn()
	b := bus.New()
	s := NewService(conn, &fakeAPI{}, b, inbox.New(), nil, 1, 20*time.Millisecond, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	s.SendMessage(SendRequest{ConversationID: 7, Content: "lost"}, "old-1", 1)

	time.Sleep(30 * time.Millisecond)
	s.expirePending() // past the ack timeout: FAILED, still retryable

	s.mu.Lock()
	p, ok := s.pending["old-1"]
	s.mu.Unlock()
	if !ok || !p.failed {
		t.Fatal("send should be FAILED and retained for retry")
	}

	time.Sleep(250 * time.Millisecond) // past the retention window
	s.expirePending()

	if s.Retry("old-1") {
		t.Error("evicted send must not be retryable")
	}
	s.mu.Lock()
	_, ok = s.pending["old-1"]
	s.mu.Unlock()
	if ok {
		t.Error("failed send still in the pending map after the retention window")
	}
}

func TestMarkSeenResetsUnreadOnlyOnSuccess(t *testing.T) {
	conn := newFakeConn()
	api := &fakeAPI{seenErr: fmt.Errorf("boom")}
	s, _, in := testService(t, conn, api)

	in.Load([]store.Conversation{{ID: 7, UnreadCount: 3}})

	if err := s.MarkSeen(context.Background(), 7); err == nil {
		t.Fatal("expected error")
	}
	if got := in.Get(7).UnreadCount; got != 3 {
		t.Errorf("unread = %d after failed mark-seen, want 3", got)
	}

	api.mu.Lock()
	api.seenErr = nil
	api.mu.Unlock()
	if err := s.MarkSeen(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if got := in.Get(7).UnreadCount; got != 0 {
		t.Errorf("unread = %d after successful mark-seen, want 0", got)
	}
}

// End-to-end: send while offline, connection completes, queued send flushes,
// ack arrives, the log shows one SENT message under the original temp id.
func TestSendAckRoundTripThroughLog(t *testing.T) {
	conn := newFakeConn()
	s, b, _ := testService(t, conn, &fakeAPI{})

	log := history.NewLog(7)
	sub := b.Subscribe("chat.", 64)
	defer sub.Cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range drain(sub.C, 2) {
			switch evt.Kind {
			case bus.KindChatMessage:
				log.Append(*evt.Payload.(*store.Message))
			case bus.KindChatAck:
				if !log.ApplyAck(*evt.Payload.(*store.Message)) {
					log.Append(*evt.Payload.(*store.Message))
				}
			}
		}
	}()

	s.SendMessage(SendRequest{ConversationID: 7, Content: "hello"}, "abc-123", 1)
	ack, _ := json.Marshal(store.Message{ID: 42, TempID: "abc-123", ConversationID: 7, SenderID: 1, ReceiverID: 2, Content: "hello", Timestamp: 1704103200000})
	conn.deliver(DestAck, ack)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for events")
	}

	msgs := log.Messages()
	if len(msgs) != 1 {
		t.Fatalf("log has %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ID != 42 || m.Status != store.StatusSent || m.Content != "hello" || m.TempID != "abc-123" {
		t.Errorf("final message = %+v", m)
	}
}

// drain forwards up to n events from ch, then stops.
func drain(ch <-chan bus.Event, n int) <-chan bus.Event {
	out := make(chan bus.Event)
	go func() {
		defer close(out)
		for i := 0; i < n; i++ {
			select {
			case evt := <-ch:
				out <- evt
			case <-time.After(time.Second):
				return
			}
		}
	}()
	return out
}

func TestHistoryMarksFetchedAsSent(t *testing.T) {
	api := &fakeAPI{pages: map[int]*rest.Page[store.Message]{
		0: {Content: []store.Message{{ID: 2, TempID: "t2", Timestamp: 200}, {ID: 1, TempID: "t1", Timestamp: 100}}, TotalPages: 1},
	}}
	s, _, _ := testService(t, newFakeConn(), api)

	page, err := s.History(context.Background(), 7, 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range page.Content {
		if m.Status != store.StatusSent {
			t.Errorf("fetched message %d status = %q, want SENT", m.ID, m.Status)
		}
	}
}
