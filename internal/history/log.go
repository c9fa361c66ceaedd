package history

import (
	"sync"
	"time"

	"github.com/lucasmrqs/freelink/internal/store"
)

// Log is the in-memory ordered message log for one open conversation. Live
// events append at the tail, history pages prepend at the head, and
// acknowledgements overwrite their pending message in place, correlated by
// temp id. The log never renumbers: a message keeps its temp id for life.
type Log struct {
	mu             sync.Mutex
	conversationID int64
	msgs           []store.Message
	byTemp         map[string]int
	serverIDs      map[int64]struct{}
	now            func() time.Time
}

// NewLog creates an empty log for a conversation.
func NewLog(conversationID int64) *Log {
	return &Log{
		conversationID: conversationID,
		byTemp:         make(map[string]int),
		serverIDs:      make(map[int64]struct{}),
		now:            time.Now,
	}
}

// ConversationID returns the conversation this log belongs to.
func (l *Log) ConversationID() int64 {
	return l.conversationID
}

// Append adds a live message (inbound, or an optimistic PENDING echo) at the
// tail. Duplicates by temp id or server id are ignored.
func (l *Log) Append(m store.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.byTemp[m.TempID]; dup {
		return false
	}
	if m.ID != 0 {
		if _, dup := l.serverIDs[m.ID]; dup {
			return false
		}
		l.serverIDs[m.ID] = struct{}{}
	}
	l.byTemp[m.TempID] = len(l.msgs)
	l.msgs = append(l.msgs, m)
	return true
}

// ApplyAck finds the PENDING message with the ack's temp id and overwrites
// its fields in place: server id, receiver, exact timestamp, status SENT.
// Returns false when no matching pending message exists, in which case the
// caller treats the event as a brand-new inbound message.
func (l *Log) ApplyAck(ack store.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byTemp[ack.TempID]
	if !ok || l.msgs[idx].Status != store.StatusPending {
		return false
	}
	ack.TempID = l.msgs[idx].TempID
	ack.Status = store.StatusSent
	l.msgs[idx] = ack
	if ack.ID != 0 {
		l.serverIDs[ack.ID] = struct{}{}
	}
	return true
}

// MarkFailed transitions a still-pending message to FAILED.
func (l *Log) MarkFailed(tempID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byTemp[tempID]
	if !ok || l.msgs[idx].Status != store.StatusPending {
		return false
	}
	l.msgs[idx].Status = store.StatusFailed
	return true
}

// MarkPending re-arms a FAILED message for a retry, keeping its temp id.
func (l *Log) MarkPending(tempID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byTemp[tempID]
	if !ok || l.msgs[idx].Status != store.StatusFailed {
		return false
	}
	l.msgs[idx].Status = store.StatusPending
	return true
}

// PrependPage merges an older history page (any order; normalized here) at
// the head of the log, skipping messages already present. Returns how many
// messages were added.
func (l *Log) PrependPage(page []store.Message) int {
	asc := NormalizeAscending(page)

	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := asc[:0]
	for _, m := range asc {
		if _, dup := l.byTemp[m.TempID]; dup {
			continue
		}
		if m.ID != 0 {
			if _, dup := l.serverIDs[m.ID]; dup {
				continue
			}
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0
	}

	l.msgs = append(append([]store.Message{}, fresh...), l.msgs...)
	l.byTemp = make(map[string]int, len(l.msgs))
	for i, m := range l.msgs {
		l.byTemp[m.TempID] = i
		if m.ID != 0 {
			l.serverIDs[m.ID] = struct{}{}
		}
	}
	return len(fresh)
}

// Messages returns a snapshot of the log in display order.
func (l *Log) Messages() []store.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Groups returns the date-bucketed view of the log.
func (l *Log) Groups() []Group {
	return GroupByDate(l.Messages(), l.now())
}

// PendingOlderThan returns temp ids of PENDING messages sent before cutoff.
func (l *Log) PendingOlderThan(cutoff time.Time) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	ms := cutoff.UnixMilli()
	for _, m := range l.msgs {
		if m.Status == store.StatusPending && m.Timestamp < ms {
			out = append(out, m.TempID)
		}
	}
	return out
}
