package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reaction mirrors spec.md §3 "MessageReaction".
type Reaction struct {
	ReactionID string
	MessageID  string
	PeerID     string
	Emoji      string
	CreatedAt  time.Time
}

// AddReaction records a peer's emoji reaction to a message. The
// (message_id, peer_id, emoji) uniqueness constraint means the same peer
// reacting twice with the same emoji is a no-op success, matching spec.md
// §3's "a peer may react to a message with a given emoji at most once".
func (db *DB) AddReaction(messageID, peerID, emoji string) (Reaction, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	r := Reaction{
		ReactionID: uuid.NewString(),
		MessageID:  messageID,
		PeerID:     peerID,
		Emoji:      emoji,
		CreatedAt:  time.Now(),
	}

	_, err := db.conn.Exec(`
		INSERT INTO message_reactions (reaction_id, message_id, peer_id, emoji, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id, peer_id, emoji) DO NOTHING
	`, r.ReactionID, r.MessageID, r.PeerID, r.Emoji, r.CreatedAt.UnixMilli())
	if err != nil {
		return Reaction{}, fmt.Errorf("store: add reaction: %w", err)
	}
	return r, nil
}

// RemoveReaction deletes a peer's specific emoji reaction from a message.
func (db *DB) RemoveReaction(messageID, peerID, emoji string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`DELETE FROM message_reactions WHERE message_id = ? AND peer_id = ? AND emoji = ?`,
		messageID, peerID, emoji)
	if err != nil {
		return fmt.Errorf("store: remove reaction: %w", err)
	}
	return mustAffectOne(res)
}

// ListReactions returns every reaction attached to a message.
func (db *DB) ListReactions(messageID string) ([]Reaction, error) {
	rows, err := db.conn.Query(`
		SELECT reaction_id, message_id, peer_id, emoji, created_at
		FROM message_reactions WHERE message_id = ?
		ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: list reactions: %w", err)
	}
	defer rows.Close()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		var createdAt int64
		if err := rows.Scan(&r.ReactionID, &r.MessageID, &r.PeerID, &r.Emoji, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan reaction: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
