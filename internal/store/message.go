package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveOutgoing persists a locally authored message as pending and touches the
// owning chat summary in one transaction. This runs BEFORE any network
// attempt; durability precedes send.
func (db *DB) SaveOutgoing(m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (id, chat_id, content, origin, delivery_status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Content, OriginLocal, DeliveryPending, m.Timestamp, now); err != nil {
		return fmt.Errorf("insert outgoing: %w", err)
	}

	if err := touchChat(tx, m.ChatID, m.Content, m.Timestamp, false); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}

	return tx.Commit()
}

// IngestIncoming persists a remote message and updates the chat summary in
// one transaction. Idempotent on message id: an echo or redelivery of an
// already-stored id changes nothing.
func (db *DB) IngestIncoming(m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.Exec(`
		INSERT INTO messages (id, chat_id, content, origin, delivery_status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.ChatID, m.Content, OriginRemote, DeliveryDelivered, m.Timestamp, now)
	if err != nil {
		return fmt.Errorf("insert incoming: %w", err)
	}

	if inserted, _ := res.RowsAffected(); inserted > 0 {
		if err := touchChat(tx, m.ChatID, m.Content, m.Timestamp, true); err != nil {
			return fmt.Errorf("touch chat: %w", err)
		}
	}

	return tx.Commit()
}

// MarkDelivered flips a message to delivered. Returns false when the row was
// already delivered (or absent), which is how a racing retry pass and
// SendMessage avoid acknowledging the same message twice.
func (db *DB) MarkDelivered(id string) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET delivery_status = ?
		WHERE id = ? AND delivery_status != ?`,
		DeliveryDelivered, id, DeliveryDelivered)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkFailed records a failed send attempt. Failed messages remain in the
// outbox and are picked up by the next retry pass.
func (db *DB) MarkFailed(id string) error {
	_, err := db.Exec(`
		UPDATE messages SET delivery_status = ?
		WHERE id = ? AND delivery_status != ?`,
		DeliveryFailed, id, DeliveryDelivered)
	return err
}

// UnsentMessages returns all locally authored messages that are not yet
// delivered, oldest first.
func (db *DB) UnsentMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, content, origin, delivery_status, timestamp
		FROM messages
		WHERE origin = ? AND delivery_status != ?
		ORDER BY timestamp ASC`,
		OriginLocal, DeliveryDelivered)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ListMessages returns all messages for a chat ordered by ascending timestamp.
func (db *DB) ListMessages(chatID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, content, origin, delivery_status, timestamp
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC`, chatID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// GetMessage returns a single message by id, or nil if absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, content, origin, delivery_status, timestamp
		FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.Origin, &m.DeliveryStatus, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
