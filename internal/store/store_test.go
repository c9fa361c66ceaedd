package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	result, err := db.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if result.Changed {
		t.Error("second Migrate() reported changes")
	}
}

func TestUpsertMessageAckOverwritesPending(t *testing.T) {
	db := testDB(t)

	pending := &Message{
		TempID: "abc-123", ConversationID: 7, SenderID: 1,
		Content: "hello", Type: TypeText, Status: StatusPending, Timestamp: 1000,
	}
	if err := db.UpsertMessage(pending); err != nil {
		t.Fatal(err)
	}

	// Ack arrives with server id and exact timestamp, same temp id.
	ack := &Message{
		ID: 42, TempID: "abc-123", ConversationID: 7, SenderID: 1, ReceiverID: 2,
		Content: "hello", Type: TypeText, Status: StatusSent, Timestamp: 1005,
	}
	if err := db.UpsertMessage(ack); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(7, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (ack must not duplicate)", len(msgs))
	}
	m := msgs[0]
	if m.ID != 42 || m.Status != StatusSent || m.Timestamp != 1005 {
		t.Errorf("ack not applied in place: %+v", m)
	}
}

func TestListMessagesKeyset(t *testing.T) {
	db := testDB(t)
	for i := int64(1); i <= 5; i++ {
		if err := db.UpsertMessage(&Message{
			ID: i, TempID: string(rune('a' + i)), ConversationID: 1,
			Content: "m", Type: TypeText, Status: StatusSent, Timestamp: i * 100,
		}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages(1, 400, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d messages, want 2", len(page))
	}
	if page[0].Timestamp != 300 || page[1].Timestamp != 200 {
		t.Errorf("keyset page = [%d, %d], want [300, 200]", page[0].Timestamp, page[1].Timestamp)
	}
}

func TestConversationUnreadReset(t *testing.T) {
	db := testDB(t)
	c := &Conversation{ID: 3, MissionTitle: "Logo design", PartnerName: "Ana", UnreadCount: 4, LastTimestamp: 10}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	if err := db.ResetUnread(3); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetConversation(3)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.UnreadCount != 0 {
		t.Errorf("conversation after reset = %+v, want unread 0", got)
	}
}

func TestGetConversationMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetConversation(999)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for missing conversation", got)
	}
}

func TestNotificationReadImpliesSeen(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNotification(&Notification{ID: 1, Category: "PAYMENT", Title: "Funds released", CreatedAt: 100}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkNotificationsRead([]int64{1}); err != nil {
		t.Fatal(err)
	}
	notifs, err := db.ListNotifications(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(notifs) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifs))
	}
	n := notifs[0]
	if n.ReadAt == 0 || n.SeenAt == 0 {
		t.Errorf("read must imply seen: %+v", n)
	}

	// A later refetch with zero seen/read must not regress the stamps.
	if err := db.UpsertNotification(&Notification{ID: 1, Category: "PAYMENT", Title: "Funds released", CreatedAt: 100}); err != nil {
		t.Fatal(err)
	}
	notifs, _ = db.ListNotifications(10, 0)
	if notifs[0].ReadAt != n.ReadAt || notifs[0].SeenAt != n.SeenAt {
		t.Errorf("refetch regressed stamps: %+v", notifs[0])
	}
}

func TestUnseenNotificationCount(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertNotification(&Notification{ID: 1, CreatedAt: 1})
	_ = db.UpsertNotification(&Notification{ID: 2, CreatedAt: 2})
	if err := db.MarkNotificationSeen(1); err != nil {
		t.Fatal(err)
	}
	n, err := db.UnseenNotificationCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("unseen count = %d, want 1", n)
	}
}
