package store

import (
	"fmt"
	"time"
)

// PutMessage inserts or replaces a message keyed by its id (idempotent).
func (db *DB) PutMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, connection_id, sender_id, recipient_id, body, original, translated, client_id, status, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			connection_id = excluded.connection_id,
			sender_id = excluded.sender_id,
			recipient_id = excluded.recipient_id,
			body = excluded.body,
			original = excluded.original,
			translated = excluded.translated,
			client_id = excluded.client_id,
			status = excluded.status,
			created_at = excluded.created_at,
			stored_at = excluded.stored_at`,
		m.ID, m.ConnectionID, m.From, m.To, m.Text, m.Original, m.Translated, m.ClientID, m.Status, m.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("put message %q: %w", m.ID, err)
	}
	return nil
}

// InsertMessage caches a message unless its id is already present. An
// existing row is never modified; inserted reports whether a row was added.
func (db *DB) InsertMessage(m *Message) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO messages (id, connection_id, sender_id, recipient_id, body, original, translated, client_id, status, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.ConnectionID, m.From, m.To, m.Text, m.Original, m.Translated, m.ClientID, m.Status, m.CreatedAt, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert message %q: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message %q: %w", m.ID, err)
	}
	return n > 0, nil
}

// MessagesByConversation returns every cached message of a conversation.
// Rows come back in storage order; callers sort for display.
func (db *DB) MessagesByConversation(connectionID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, connection_id, sender_id, recipient_id, body, original, translated, client_id, status, created_at
		FROM messages
		WHERE connection_id = ?`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConnectionID, &m.From, &m.To, &m.Text, &m.Original, &m.Translated, &m.ClientID, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteByConversation removes all cached messages of a conversation and
// reports how many were deleted.
func (db *DB) DeleteByConversation(connectionID string) (int64, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE connection_id = ?`, connectionID)
	if err != nil {
		return 0, fmt.Errorf("delete messages of %q: %w", connectionID, err)
	}
	return res.RowsAffected()
}

// UpdateMessageStatus sets the delivery status of a cached message.
func (db *DB) UpdateMessageStatus(id, status string) error {
	if _, err := db.Exec(`UPDATE messages SET status = ?, stored_at = ? WHERE id = ?`, status, time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("update status of %q: %w", id, err)
	}
	return nil
}
