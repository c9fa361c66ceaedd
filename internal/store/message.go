package store

import "time"

// UpsertMessage inserts or updates a message, idempotent on temp_id. An
// acknowledged message overwrites its pending row in place: same temp_id,
// server-assigned id and timestamp, status SENT.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (server_id, temp_id, conversation_id, sender_id, receiver_id, content, type, file_url, file_type, seen, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(temp_id) DO UPDATE SET
			server_id = excluded.server_id,
			receiver_id = excluded.receiver_id,
			content = excluded.content,
			seen = excluded.seen,
			status = excluded.status,
			timestamp = excluded.timestamp`,
		m.ID, m.TempID, m.ConversationID, m.SenderID, m.ReceiverID, m.Content, m.Type,
		m.FileURL, m.FileType, m.Seen, m.Status, m.Timestamp, now)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination by
// timestamp, newest first. Pass beforeTs <= 0 to start from the present.
func (db *DB) ListMessages(conversationID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT server_id, temp_id, conversation_id, sender_id, receiver_id, content, type, file_url, file_type, seen, status, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TempID, &m.ConversationID, &m.SenderID, &m.ReceiverID,
			&m.Content, &m.Type, &m.FileURL, &m.FileType, &m.Seen, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkConversationSeen flags every message in a conversation as seen.
func (db *DB) MarkConversationSeen(conversationID int64) error {
	_, err := db.Exec(`UPDATE messages SET seen = 1 WHERE conversation_id = ?`, conversationID)
	return err
}
