// Package inbox holds the conversation-summary state: last-message previews
// and unread counters, reconciled against mark-seen round-trips.
package inbox

import (
	"sort"
	"sync"

	"github.com/lucasmrqs/freelink/internal/store"
)

// Inbox is the in-memory conversation list of the current user. The unread
// counter only increments for conversations that are not currently open, and
// only resets after a successful mark-seen round-trip (callers invoke
// ResetUnread once the REST call succeeds, never before).
type Inbox struct {
	mu    sync.Mutex
	open  int64 // currently open conversation, 0 = none
	convs map[int64]*store.Conversation
}

// New creates an empty inbox.
func New() *Inbox {
	return &Inbox{convs: make(map[int64]*store.Conversation)}
}

// Load replaces the summaries with a REST-fetched snapshot, keeping any
// currently-open marker.
func (in *Inbox) Load(convs []store.Conversation) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.convs = make(map[int64]*store.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		in.convs[c.ID] = &c
	}
}

// Upsert adds or replaces one summary.
func (in *Inbox) Upsert(c store.Conversation) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.convs[c.ID] = &c
}

// SetOpen marks a conversation as the one on screen; 0 means none.
func (in *Inbox) SetOpen(id int64) {
	in.mu.Lock()
	in.open = id
	in.mu.Unlock()
}

// Open returns the currently open conversation id.
func (in *Inbox) Open() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.open
}

// ApplyMessage folds a message event into the summary: preview fields update
// on every event, the unread counter only for inbound messages on a
// conversation that is not open.
func (in *Inbox) ApplyMessage(m *store.Message, ownUserID int64) {
	in.mu.Lock()
	defer in.mu.Unlock()

	c, ok := in.convs[m.ConversationID]
	if !ok {
		c = &store.Conversation{ID: m.ConversationID}
		in.convs[m.ConversationID] = c
	}
	c.LastContent = m.Content
	c.LastType = m.Type
	c.LastSenderID = m.SenderID
	c.LastTimestamp = m.Timestamp

	if m.SenderID != ownUserID && m.ConversationID != in.open {
		c.UnreadCount++
	}
}

// ResetUnread zeroes a conversation's unread counter.
func (in *Inbox) ResetUnread(id int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok := in.convs[id]; ok {
		c.UnreadCount = 0
	}
}

// Get returns a copy of one summary, or nil.
func (in *Inbox) Get(id int64) *store.Conversation {
	in.mu.Lock()
	defer in.mu.Unlock()
	c, ok := in.convs[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// List returns summaries sorted by last activity, newest first.
func (in *Inbox) List() []store.Conversation {
	in.mu.Lock()
	out := make([]store.Conversation, 0, len(in.convs))
	for _, c := range in.convs {
		out = append(out, *c)
	}
	in.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastTimestamp > out[j].LastTimestamp })
	return out
}

// TotalUnread sums unread counters across all conversations.
func (in *Inbox) TotalUnread() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, c := range in.convs {
		n += c.UnreadCount
	}
	return n
}
