package store

import (
	"fmt"
	"time"
)

// ReplaceConnections replaces the cached connection set with conns.
func (db *DB) ReplaceConnections(conns []Connection) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM connections`); err != nil {
		return fmt.Errorf("clear connections: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range conns {
		if _, err := tx.Exec(`
			INSERT INTO connections (id, requester_id, addressee_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.RequesterID, c.AddresseeID, c.Status, c.CreatedAt.UnixMilli(), now); err != nil {
			return fmt.Errorf("insert connection %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListConnections returns the cached connections ordered by creation time.
func (db *DB) ListConnections() ([]Connection, error) {
	rows, err := db.Query(`
		SELECT id, requester_id, addressee_id, status, created_at
		FROM connections ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var conns []Connection
	for rows.Next() {
		var c Connection
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.RequesterID, &c.AddresseeID, &c.Status, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		conns = append(conns, c)
	}
	return conns, rows.Err()
}
