package store

import (
	"fmt"
	"time"
)

// SearchHit is one row of a full-text search result (spec.md §4.7 "Search"),
// joined back to its parent message and conversation.
type SearchHit struct {
	MessageID      string
	ConversationID string
	Snippet        string
	CreatedAt      time.Time
}

// SearchMessages runs a full-text query against messages_fts and returns
// matches ranked by bm25, newest-first among ties, each with a highlighted
// snippet. query is passed through to FTS5's MATCH operator as-is; callers
// wanting literal-phrase search should quote it themselves.
func (db *DB) SearchMessages(query string, limit int) ([]SearchHit, error) {
	rows, err := db.conn.Query(`
		SELECT m.message_id, m.conversation_id, m.created_at,
		       snippet(messages_fts, 1, '[', ']', '…', 8)
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ? AND m.is_deleted = 0
		ORDER BY bm25(messages_fts), m.created_at DESC
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search messages: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		var createdAt int64
		if err := rows.Scan(&h.MessageID, &h.ConversationID, &createdAt, &h.Snippet); err != nil {
			return nil, fmt.Errorf("store: scan search hit: %w", err)
		}
		h.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// SearchMessagesInConversation narrows SearchMessages to a single
// conversation, used by the per-thread search entry point.
func (db *DB) SearchMessagesInConversation(conversationID, query string, limit int) ([]SearchHit, error) {
	rows, err := db.conn.Query(`
		SELECT m.message_id, m.conversation_id, m.created_at,
		       snippet(messages_fts, 1, '[', ']', '…', 8)
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ? AND m.is_deleted = 0 AND m.conversation_id = ?
		ORDER BY bm25(messages_fts), m.created_at DESC
		LIMIT ?
	`, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search messages in conversation: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		var createdAt int64
		if err := rows.Scan(&h.MessageID, &h.ConversationID, &createdAt, &h.Snippet); err != nil {
			return nil, fmt.Errorf("store: scan search hit: %w", err)
		}
		h.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}
