package store

// Message type tags as sent on the wire.
const (
	TypeText = "TEXT"
	TypeLink = "LINK"
	TypeFile = "FILE"
)

// Client-side delivery status of a message.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// Message is one unit of chat communication. ID is zero until the server
// acknowledges the message; TempID is always present and is the sole
// correlation key across the PENDING to SENT transition.
type Message struct {
	ID             int64  `json:"id,omitempty"`
	TempID         string `json:"tempId"`
	ConversationID int64  `json:"conversationId"`
	SenderID       int64  `json:"senderId"`
	ReceiverID     int64  `json:"receiverId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	FileURL        string `json:"fileUrl,omitempty"`
	FileType       string `json:"fileType,omitempty"`
	Timestamp      int64  `json:"timestamp"` // unix milliseconds
	Seen           bool   `json:"seen"`
	Status         string `json:"-"` // client-only, never on the wire
}

// Conversation is one row of the current user's conversation list.
type Conversation struct {
	ID            int64  `json:"id"`
	MissionID     int64  `json:"missionId"`
	MissionTitle  string `json:"missionTitle"`
	PartnerID     int64  `json:"partnerId"`
	PartnerName   string `json:"partnerName"`
	PartnerPhoto  string `json:"partnerPhoto,omitempty"`
	LastContent   string `json:"lastContent,omitempty"`
	LastType      string `json:"lastType,omitempty"`
	LastSenderID  int64  `json:"lastSenderId,omitempty"`
	LastTimestamp int64  `json:"lastTimestamp,omitempty"`
	UnreadCount   int    `json:"unreadCount"`
}

// Notification is a server-pushed or REST-fetched alert. SeenAt/ReadAt are
// zero while unseen/unread; a read notification is always also seen.
type Notification struct {
	ID        int64  `json:"id"`
	Category  string `json:"category"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Data      string `json:"data,omitempty"` // structured payload, raw JSON
	Priority  string `json:"priority,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	SeenAt    int64  `json:"seenAt,omitempty"`
	ReadAt    int64  `json:"readAt,omitempty"`
}
