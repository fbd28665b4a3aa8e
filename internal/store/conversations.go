package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConversationKind distinguishes a 1:1 conversation from a group one
// (spec.md §3 "Conversation").
type ConversationKind int

const (
	ConversationDirect ConversationKind = iota
	ConversationGroup
)

// Conversation mirrors spec.md §3 "Conversation".
type Conversation struct {
	ID            string
	Kind          ConversationKind
	PeerID        *string
	GroupID       *string
	DisplayName   string
	LastMessageID *string
	LastMessageAt *time.Time
	UnreadCount   int
	IsMuted       bool
	MutedUntil    *time.Time
	IsArchived    bool
	CreatedAt     time.Time
}

// CreateDirectConversation creates the 1:1 conversation with peerID, which
// must already exist as a Contact (spec.md §3 precondition).
func (db *DB) CreateDirectConversation(peerID, displayName string) (Conversation, error) {
	return db.CreateDirectConversationWithID(uuid.NewString(), peerID, displayName)
}

// CreateDirectConversationWithID is CreateDirectConversation with a
// caller-supplied id, used by callers (e.g. internal/handler) that need a
// deterministic conversation id derived from the peer so concurrent first
// contacts converge on one row (spec.md §4.6).
func (db *DB) CreateDirectConversationWithID(id, peerID, displayName string) (Conversation, error) {
	c := Conversation{
		ID:          id,
		Kind:        ConversationDirect,
		PeerID:      &peerID,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	return c, db.insertConversation(c)
}

// CreateGroupConversation creates the conversation backing a group chat.
func (db *DB) CreateGroupConversation(groupID, displayName string) (Conversation, error) {
	c := Conversation{
		ID:          uuid.NewString(),
		Kind:        ConversationGroup,
		GroupID:     &groupID,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	return c, db.insertConversation(c)
}

func (db *DB) insertConversation(c Conversation) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO conversations (id, kind, peer_id, group_id, display_name, unread_count, is_muted, is_archived, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?)
	`, c.ID, int(c.Kind), nullableString(c.PeerID), nullableString(c.GroupID), c.DisplayName, c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: insert conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation by id.
func (db *DB) GetConversation(id string) (Conversation, error) {
	row := db.conn.QueryRow(`
		SELECT id, kind, peer_id, group_id, display_name, last_message_id, last_message_at,
		       unread_count, is_muted, muted_until, is_archived, created_at
		FROM conversations WHERE id = ?
	`, id)
	return scanConversation(row)
}

// GetConversationByGroupID loads the conversation backing a group chat.
func (db *DB) GetConversationByGroupID(groupID string) (Conversation, error) {
	row := db.conn.QueryRow(`
		SELECT id, kind, peer_id, group_id, display_name, last_message_id, last_message_at,
		       unread_count, is_muted, muted_until, is_archived, created_at
		FROM conversations WHERE group_id = ?
	`, groupID)
	return scanConversation(row)
}

// ListConversations returns conversations ordered by most recent activity
// first, matching the home-screen ordering implied by spec.md §4.9's
// conversation list updates.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.conn.Query(`
		SELECT id, kind, peer_id, group_id, display_name, last_message_id, last_message_at,
		       unread_count, is_muted, muted_until, is_archived, created_at
		FROM conversations
		ORDER BY COALESCE(last_message_at, created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordIncomingMessage advances the conversation's last-message pointer and
// unread counter. Called by the handler after a message is persisted
// (spec.md §4.5).
func (db *DB) RecordIncomingMessage(conversationID, messageID string, at time.Time) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`
		UPDATE conversations
		SET last_message_id = ?, last_message_at = ?, unread_count = unread_count + 1
		WHERE id = ?
	`, messageID, at.UnixMilli(), conversationID)
	if err != nil {
		return fmt.Errorf("store: record incoming message: %w", err)
	}
	return mustAffectOne(res)
}

// MarkConversationRead resets the unread counter to zero.
func (db *DB) MarkConversationRead(conversationID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("store: mark conversation read: %w", err)
	}
	return mustAffectOne(res)
}

// SetMuted mutes a conversation, optionally until a specific time (nil means
// indefinitely, per spec.md §3's nullable muted_until).
func (db *DB) SetMuted(conversationID string, until *time.Time) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`UPDATE conversations SET is_muted = 1, muted_until = ? WHERE id = ?`,
		nullableTime(until), conversationID)
	if err != nil {
		return fmt.Errorf("store: set muted: %w", err)
	}
	return mustAffectOne(res)
}

// SetArchived sets the conversation's archived flag.
func (db *DB) SetArchived(conversationID string, archived bool) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`UPDATE conversations SET is_archived = ? WHERE id = ?`, archived, conversationID)
	if err != nil {
		return fmt.Errorf("store: set archived: %w", err)
	}
	return mustAffectOne(res)
}

func scanConversation(row scannable) (Conversation, error) {
	var c Conversation
	var kind int
	var peerID, groupID, lastMessageID sql.NullString
	var lastMessageAt, mutedUntil sql.NullInt64
	var isMuted, isArchived bool
	var createdAt int64

	err := row.Scan(&c.ID, &kind, &peerID, &groupID, &c.DisplayName, &lastMessageID, &lastMessageAt,
		&c.UnreadCount, &isMuted, &mutedUntil, &isArchived, &createdAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("store: scan conversation: %w", err)
	}

	c.Kind = ConversationKind(kind)
	c.IsMuted = isMuted
	c.IsArchived = isArchived
	c.CreatedAt = time.UnixMilli(createdAt)
	if peerID.Valid {
		c.PeerID = &peerID.String
	}
	if groupID.Valid {
		c.GroupID = &groupID.String
	}
	if lastMessageID.Valid {
		c.LastMessageID = &lastMessageID.String
	}
	if lastMessageAt.Valid {
		t := time.UnixMilli(lastMessageAt.Int64)
		c.LastMessageAt = &t
	}
	if mutedUntil.Valid {
		t := time.UnixMilli(mutedUntil.Int64)
		c.MutedUntil = &t
	}
	return c, nil
}
