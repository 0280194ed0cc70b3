package cache

import (
	"database/sql"
	"time"

	"github.com/scuffedsnap/snapsync/internal/api"
)

// UpsertMessage inserts or updates a message under the given conversation
// peer (idempotent on the durable message id).
func (db *DB) UpsertMessage(peerID int64, m *api.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, peer_id, sender_id, receiver_id, content, kind, edited, expires_at, read_at, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			kind = excluded.kind,
			edited = excluded.edited,
			expires_at = excluded.expires_at,
			read_at = excluded.read_at,
			cached_at = excluded.cached_at`,
		m.ID, peerID, m.SenderID, m.ReceiverID, m.Content, m.Kind, m.Edited,
		optMillis(m.ExpiresAt), optMillis(m.ReadAt), m.CreatedAt.UnixMilli(), now)
	return err
}

// SetMessageContent replaces the content of an edited message.
func (db *DB) SetMessageContent(id int64, content string) error {
	_, err := db.Exec(`UPDATE messages SET content = ?, edited = 1 WHERE id = ?`, content, id)
	return err
}

// DeleteMessage removes a message. Deleting an unknown id is a no-op.
func (db *DB) DeleteMessage(id int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// MarkSentRead stamps read_at on messages the given user sent to peerID
// that have no read receipt yet.
func (db *DB) MarkSentRead(peerID, senderID int64, readAt time.Time) error {
	_, err := db.Exec(`
		UPDATE messages SET read_at = ?
		WHERE peer_id = ? AND sender_id = ? AND read_at IS NULL`,
		readAt.UnixMilli(), peerID, senderID)
	return err
}

// ListThread returns the most recent messages for a conversation in
// ascending time order. Messages whose expiry has passed are excluded.
func (db *DB) ListThread(peerID int64, limit int, now time.Time) ([]api.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, sender_id, receiver_id, content, kind, edited, expires_at, read_at, created_at
		FROM (
			SELECT * FROM messages
			WHERE peer_id = ? AND (expires_at IS NULL OR expires_at > ?)
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC`, peerID, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []api.Message
	for rows.Next() {
		var m api.Message
		var expiresAt, readAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Kind, &m.Edited, &expiresAt, &readAt, &createdAt); err != nil {
			return nil, err
		}
		m.ExpiresAt = optTime(expiresAt)
		m.ReadAt = optTime(readAt)
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// PurgeExpired deletes messages whose expiry has passed.
func (db *DB) PurgeExpired(now time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
