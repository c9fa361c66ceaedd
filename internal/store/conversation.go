package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation summary row.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, mission_id, mission_title, partner_id, partner_name, partner_photo, last_content, last_type, last_sender_id, last_timestamp, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mission_title = excluded.mission_title,
			partner_name = excluded.partner_name,
			partner_photo = excluded.partner_photo,
			last_content = excluded.last_content,
			last_type = excluded.last_type,
			last_sender_id = excluded.last_sender_id,
			last_timestamp = excluded.last_timestamp,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.MissionID, c.MissionTitle, c.PartnerID, c.PartnerName, c.PartnerPhoto,
		c.LastContent, c.LastType, c.LastSenderID, c.LastTimestamp, c.UnreadCount, now)
	return err
}

// ListConversations returns conversations sorted by last activity descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, mission_id, mission_title, partner_id, partner_name, partner_photo, last_content, last_type, last_sender_id, last_timestamp, unread_count
		FROM conversations
		ORDER BY last_timestamp DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.MissionID, &c.MissionTitle, &c.PartnerID, &c.PartnerName,
			&c.PartnerPhoto, &c.LastContent, &c.LastType, &c.LastSenderID, &c.LastTimestamp, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id int64) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, mission_id, mission_title, partner_id, partner_name, partner_photo, last_content, last_type, last_sender_id, last_timestamp, unread_count
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.MissionID, &c.MissionTitle, &c.PartnerID, &c.PartnerName,
			&c.PartnerPhoto, &c.LastContent, &c.LastType, &c.LastSenderID, &c.LastTimestamp, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ResetUnread zeroes the unread counter after a successful mark-seen.
func (db *DB) ResetUnread(conversationID int64) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationID)
	return err
}
