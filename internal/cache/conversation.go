package cache

import (
	"time"

	"github.com/scuffedsnap/snapsync/internal/api"
)

// UpsertConversation inserts or updates one conversation summary row.
func (db *DB) UpsertConversation(c *api.Conversation) error {
	now := time.Now().UnixMilli()
	var lastAt int64
	var preview string
	if c.LastMessage != nil {
		lastAt = c.LastMessage.CreatedAt.UnixMilli()
		preview = c.LastMessage.Content
	}
	_, err := db.Exec(`
		INSERT INTO conversations (peer_id, username, avatar, last_message_at, last_message_preview, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			username = excluded.username,
			avatar = excluded.avatar,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.User.ID, c.User.Username, c.User.Avatar, lastAt, preview, c.UnreadCount, now)
	return err
}

// ReplaceConversations swaps the cached summary list for a freshly fetched
// one inside a single transaction.
func (db *DB) ReplaceConversations(list []api.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i := range list {
		c := &list[i]
		var lastAt int64
		var preview string
		if c.LastMessage != nil {
			lastAt = c.LastMessage.CreatedAt.UnixMilli()
			preview = c.LastMessage.Content
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (peer_id, username, avatar, last_message_at, last_message_preview, unread_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.User.ID, c.User.Username, c.User.Avatar, lastAt, preview, c.UnreadCount, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListConversations returns cached summaries sorted by last message
// timestamp descending. Summaries reconstructed from the cache carry only
// the fields the conversation list renders.
func (db *DB) ListConversations() ([]api.Conversation, error) {
	rows, err := db.Query(`
		SELECT peer_id, username, avatar, last_message_at, last_message_preview, unread_count
		FROM conversations
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []api.Conversation
	for rows.Next() {
		var c api.Conversation
		var lastAt int64
		var preview string
		if err := rows.Scan(&c.User.ID, &c.User.Username, &c.User.Avatar, &lastAt, &preview, &c.UnreadCount); err != nil {
			return nil, err
		}
		if lastAt > 0 {
			c.LastMessage = &api.Message{Content: preview, CreatedAt: time.UnixMilli(lastAt)}
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
