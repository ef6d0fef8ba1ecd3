package store

import (
	"database/sql"
	"time"
	"unicode/utf8"
)

// InsertChat inserts or refreshes a chat record. Used for seeding.
func (db *DB) InsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, bot_name, latest_message, last_activity_at, is_unread, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bot_name = excluded.bot_name,
			latest_message = excluded.latest_message,
			last_activity_at = excluded.last_activity_at,
			is_unread = excluded.is_unread,
			updated_at = excluded.updated_at`,
		c.ID, c.BotName, c.LatestMessage, c.LastActivityAt, c.IsUnread, now)
	return err
}

// ChatCount returns the number of chat rows. The seeding check depends on it.
func (db *DB) ChatCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}

// ListChats returns chats sorted by last activity descending.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT id, bot_name, latest_message, last_activity_at, is_unread
		FROM chats
		ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.BotName, &c.LatestMessage, &c.LastActivityAt, &c.IsUnread); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil if absent.
func (db *DB) GetChat(id string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, bot_name, latest_message, last_activity_at, is_unread
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.BotName, &c.LatestMessage, &c.LastActivityAt, &c.IsUnread)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkChatRead clears the unread flag.
func (db *DB) MarkChatRead(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET is_unread = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// touchChat upserts the chat summary for a just-stored message. The preview
// is last-write-by-timestamp: an out-of-order frame never rolls the summary
// backwards. markUnread is set for inbound messages only.
func touchChat(tx *sql.Tx, chatID, preview string, ts int64, markUnread bool) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(`
		INSERT INTO chats (id, bot_name, latest_message, last_activity_at, is_unread, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bot_name = CASE WHEN chats.bot_name = '' THEN excluded.bot_name ELSE chats.bot_name END,
			latest_message = CASE WHEN excluded.last_activity_at >= chats.last_activity_at
				THEN excluded.latest_message ELSE chats.latest_message END,
			last_activity_at = MAX(chats.last_activity_at, excluded.last_activity_at),
			is_unread = CASE WHEN excluded.is_unread THEN 1 ELSE chats.is_unread END,
			updated_at = excluded.updated_at`,
		chatID, chatID, truncate(preview, 100), ts, markUnread, now)
	return err
}

// truncate cuts s to at most maxLen bytes, backing up to the nearest rune
// boundary so a multi-byte rune is never split.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
