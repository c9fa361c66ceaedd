package inbox

import (
	"testing"

	"github.com/lucasmrqs/freelink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const me = int64(1)

func inbound(conv int64, ts int64) *store.Message {
	return &store.Message{ConversationID: conv, SenderID: 2, Content: "hey", Type: store.TypeText, Timestamp: ts}
}

func TestUnreadIncrementsOnlyWhenNotOpen(t *testing.T) {
	in := New()
	in.Load([]store.Conversation{{ID: 10}, {ID: 20}})
	in.SetOpen(10)

	in.ApplyMessage(inbound(10, 100), me)
	in.ApplyMessage(inbound(20, 100), me)
	in.ApplyMessage(inbound(20, 101), me)

	assert.Equal(t, 0, in.Get(10).UnreadCount, "open conversation never increments")
	assert.Equal(t, 2, in.Get(20).UnreadCount)
	assert.Equal(t, 2, in.TotalUnread())
}

func TestOwnMessagesNeverIncrement(t *testing.T) {
	in := New()
	in.Load([]store.Conversation{{ID: 10}})

	in.ApplyMessage(&store.Message{ConversationID: 10, SenderID: me, Content: "mine", Timestamp: 50}, me)

	c := in.Get(10)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, "mine", c.LastContent, "preview still updates")
	assert.Equal(t, me, c.LastSenderID)
}

func TestResetUnreadAfterMarkSeen(t *testing.T) {
	in := New()
	in.Load([]store.Conversation{{ID: 10, UnreadCount: 3}})

	in.SetOpen(10)
	in.ResetUnread(10)
	assert.Equal(t, 0, in.Get(10).UnreadCount)

	// A later inbound event on the open conversation keeps it at zero.
	in.ApplyMessage(inbound(10, 200), me)
	assert.Equal(t, 0, in.Get(10).UnreadCount)
}

func TestApplyMessageCreatesSummary(t *testing.T) {
	in := New()
	in.ApplyMessage(inbound(33, 100), me)
	c := in.Get(33)
	require.NotNil(t, c)
	assert.Equal(t, 1, c.UnreadCount)
}

func TestListSortedByActivity(t *testing.T) {
	in := New()
	in.Load([]store.Conversation{
		{ID: 1, LastTimestamp: 100},
		{ID: 2, LastTimestamp: 300},
		{ID: 3, LastTimestamp: 200},
	})
	list := in.List()
	require.Len(t, list, 3)
	assert.Equal(t, int64(2), list[0].ID)
	assert.Equal(t, int64(3), list[1].ID)
	assert.Equal(t, int64(1), list[2].ID)
}
