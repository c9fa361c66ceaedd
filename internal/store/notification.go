package store

import "time"

// UpsertNotification inserts or updates a notification by server id. Seen and
// read timestamps only ever move forward; a refetch never un-reads a row.
func (db *DB) UpsertNotification(n *Notification) error {
	_, err := db.Exec(`
		INSERT INTO notifications (id, category, title, body, data, priority, created_at, seen_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			data = excluded.data,
			priority = excluded.priority,
			seen_at = MAX(notifications.seen_at, excluded.seen_at),
			read_at = MAX(notifications.read_at, excluded.read_at)`,
		n.ID, n.Category, n.Title, n.Body, n.Data, n.Priority, n.CreatedAt, n.SeenAt, n.ReadAt)
	return err
}

// ListNotifications returns notifications newest first.
func (db *DB) ListNotifications(limit, offset int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, category, title, body, data, priority, created_at, seen_at, read_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notifs []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Category, &n.Title, &n.Body, &n.Data, &n.Priority,
			&n.CreatedAt, &n.SeenAt, &n.ReadAt); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// MarkNotificationSeen stamps seen_at if not already set.
func (db *DB) MarkNotificationSeen(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE notifications SET seen_at = ? WHERE id = ? AND seen_at = 0`, now, id)
	return err
}

// MarkNotificationsRead stamps read_at (and seen_at, since read implies seen)
// for the given ids.
func (db *DB) MarkNotificationsRead(ids []int64) error {
	now := time.Now().UnixMilli()
	for _, id := range ids {
		if _, err := db.Exec(`
			UPDATE notifications
			SET read_at = CASE WHEN read_at = 0 THEN ? ELSE read_at END,
			    seen_at = CASE WHEN seen_at = 0 THEN ? ELSE seen_at END
			WHERE id = ?`, now, now, id); err != nil {
			return err
		}
	}
	return nil
}

// UnseenNotificationCount returns how many notifications have never been seen.
func (db *DB) UnseenNotificationCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE seen_at = 0`).Scan(&n)
	return n, err
}
