// Package history turns the flat message log and REST-fetched history pages
// into one gapless, chronologically ordered, date-grouped sequence.
package history

import (
	"sort"
	"time"

	"github.com/lucasmrqs/freelink/internal/store"
)

const dayFormat = "2006-01-02"

// Group is a run of messages sharing a calendar day, ordered ascending by
// timestamp. Key is the stable grouping key; Label is the display form.
type Group struct {
	Key      string
	Label    string
	Messages []store.Message
}

// DateLabel renders the human label for a timestamp relative to now.
func DateLabel(ts int64, now time.Time) string {
	day := time.UnixMilli(ts).In(now.Location())
	switch day.Format(dayFormat) {
	case now.Format(dayFormat):
		return "Today"
	case now.AddDate(0, 0, -1).Format(dayFormat):
		return "Yesterday"
	}
	return day.Format("January 2, 2006")
}

// NormalizeAscending returns msgs sorted ascending by timestamp. The sort is
// stable so same-timestamp messages keep their server order. Server pages
// arrive newest-first; every call path goes through this before grouping.
func NormalizeAscending(msgs []store.Message) []store.Message {
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// GroupByDate buckets ascending-ordered messages by calendar day.
func GroupByDate(msgs []store.Message, now time.Time) []Group {
	var groups []Group
	for _, m := range msgs {
		key := time.UnixMilli(m.Timestamp).In(now.Location()).Format(dayFormat)
		if n := len(groups); n > 0 && groups[n-1].Key == key {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, Group{
			Key:      key,
			Label:    DateLabel(m.Timestamp, now),
			Messages: []store.Message{m},
		})
	}
	return groups
}

// MergeOlder prepends an older page's groups to the existing ones. When the
// older page's last bucket and the existing first bucket share a day, their
// messages are concatenated and re-sorted so the merged bucket stays
// monotonic; all other buckets concatenate as-is. The merge is synchronous
// and allocation-only, so callers can adjust scroll offsets in the same
// animation frame.
func MergeOlder(older, existing []Group) []Group {
	if len(existing) == 0 {
		return older
	}
	if len(older) == 0 {
		return existing
	}

	last := older[len(older)-1]
	first := existing[0]
	if last.Key != first.Key {
		return append(append([]Group{}, older...), existing...)
	}

	merged := Group{Key: last.Key, Label: last.Label}
	merged.Messages = append(append([]store.Message{}, last.Messages...), first.Messages...)
	sort.SliceStable(merged.Messages, func(i, j int) bool {
		return merged.Messages[i].Timestamp < merged.Messages[j].Timestamp
	})

	out := append([]Group{}, older[:len(older)-1]...)
	out = append(out, merged)
	return append(out, existing[1:]...)
}
