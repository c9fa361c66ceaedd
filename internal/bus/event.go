package bus

import "time"

// Event kinds published on the bus, grouped by channel namespace.
const (
	KindConnState = "conn.state"

	KindChatMessage    = "chat.message"     // inbound or optimistic outbound message
	KindChatAck        = "chat.ack"         // server acknowledgement of an own message
	KindChatSendFailed = "chat.send_failed" // pending message timed out
	KindChatSeen       = "chat.seen"        // conversation marked seen

	KindMatchEvent = "match.event"

	KindNotifyEvent = "notify.event"
)

// Event is a domain event delivered to subscribers.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
