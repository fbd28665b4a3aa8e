package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MessageStatus mirrors the lifecycle spec.md §3 "Message.status" walks
// through: Pending -> Sent -> Delivered -> Read, or Failed.
type MessageStatus string

const (
	StatusPending   MessageStatus = "Pending"
	StatusSent      MessageStatus = "Sent"
	StatusDelivered MessageStatus = "Delivered"
	StatusRead      MessageStatus = "Read"
	StatusFailed    MessageStatus = "Failed"
)

// Message mirrors spec.md §3 "Message". ContentEncrypted holds the envelope
// ciphertext exactly as it traveled the wire (kept for retry/audit);
// ContentPlaintext holds the decrypted body and feeds the FTS5 index via the
// triggers in migrations/0001_init.sql.
type Message struct {
	MessageID         string
	ConversationID    string
	SenderPeerID      string
	RecipientPeerID   *string
	MessageType       string
	ContentEncrypted  []byte
	ContentPlaintext  *string
	CreatedAt         time.Time
	SentAt            *time.Time
	ReceivedAt        *time.Time
	ReadAt            *time.Time
	Status            MessageStatus
	IsDeleted         bool
	ParentMessageID   *string
}

// CreateMessage inserts a new message row. Callers are responsible for
// idempotence (spec.md §4.5's "Idempotent insert by message_id") — a
// duplicate message_id returns ErrAlreadyExists so the caller can treat a
// retransmit as already-applied rather than a failure.
func (db *DB) CreateMessage(m Message) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Status == "" {
		m.Status = StatusPending
	}

	_, err := db.conn.Exec(`
		INSERT INTO messages (message_id, conversation_id, sender_peer_id, recipient_peer_id, message_type,
		                       content_encrypted, content_plaintext, created_at, sent_at, received_at, read_at,
		                       status, is_deleted, parent_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		m.MessageID, m.ConversationID, m.SenderPeerID, nullableString(m.RecipientPeerID), m.MessageType,
		m.ContentEncrypted, nullableString(m.ContentPlaintext), m.CreatedAt.UnixMilli(),
		nullableTime(m.SentAt), nullableTime(m.ReceivedAt), nullableTime(m.ReadAt),
		string(m.Status), nullableString(m.ParentMessageID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: create message: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("store: create message: %w", err)
	}
	return nil
}

// GetMessage loads a message by id.
func (db *DB) GetMessage(messageID string) (Message, error) {
	row := db.conn.QueryRow(messageSelectSQL+" WHERE message_id = ?", messageID)
	return scanMessage(row)
}

// MessageExists reports whether a message_id has already been persisted,
// used by the handler's idempotence check ahead of a full decrypt.
func (db *DB) MessageExists(messageID string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(1) FROM messages WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: message exists: %w", err)
	}
	return n > 0, nil
}

// ListMessages returns a conversation's messages newest-first, paginated by
// a row limit and an optional "before" cursor (the created_at of the oldest
// message already seen by the caller).
func (db *DB) ListMessages(conversationID string, limit int, before *time.Time) ([]Message, error) {
	query := messageSelectSQL + " WHERE conversation_id = ? AND is_deleted = 0"
	args := []any{conversationID}
	if before != nil {
		query += " AND created_at < ?"
		args = append(args, before.UnixMilli())
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageStatus advances a message's delivery status.
func (db *DB) UpdateMessageStatus(messageID string, status MessageStatus) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var col string
	switch status {
	case StatusSent:
		col = "sent_at"
	case StatusDelivered:
		col = "received_at"
	case StatusRead:
		col = "read_at"
	}

	var res sql.Result
	var err error
	if col != "" {
		res, err = db.conn.Exec(fmt.Sprintf(`UPDATE messages SET status = ?, %s = ? WHERE message_id = ?`, col),
			string(status), time.Now().UnixMilli(), messageID)
	} else {
		res, err = db.conn.Exec(`UPDATE messages SET status = ? WHERE message_id = ?`, string(status), messageID)
	}
	if err != nil {
		return fmt.Errorf("store: update message status: %w", err)
	}
	return mustAffectOne(res)
}

// SoftDeleteMessage marks a message deleted without removing it from the
// FTS index's deletion ledger (the AFTER DELETE trigger only fires on a
// real DELETE; soft-delete just flips the flag and callers filter on it).
func (db *DB) SoftDeleteMessage(messageID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`UPDATE messages SET is_deleted = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("store: soft delete message: %w", err)
	}
	return mustAffectOne(res)
}

const messageSelectSQL = `
	SELECT message_id, conversation_id, sender_peer_id, recipient_peer_id, message_type,
	       content_encrypted, content_plaintext, created_at, sent_at, received_at, read_at,
	       status, is_deleted, parent_message_id
	FROM messages`

func scanMessage(row scannable) (Message, error) {
	var m Message
	var recipient, plaintext, parent sql.NullString
	var sentAt, receivedAt, readAt sql.NullInt64
	var createdAt int64
	var status string
	var isDeleted bool

	err := row.Scan(&m.MessageID, &m.ConversationID, &m.SenderPeerID, &recipient, &m.MessageType,
		&m.ContentEncrypted, &plaintext, &createdAt, &sentAt, &receivedAt, &readAt,
		&status, &isDeleted, &parent)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("store: scan message: %w", err)
	}

	m.CreatedAt = time.UnixMilli(createdAt)
	m.Status = MessageStatus(status)
	m.IsDeleted = isDeleted
	if recipient.Valid {
		m.RecipientPeerID = &recipient.String
	}
	if plaintext.Valid {
		m.ContentPlaintext = &plaintext.String
	}
	if parent.Valid {
		m.ParentMessageID = &parent.String
	}
	if sentAt.Valid {
		t := time.UnixMilli(sentAt.Int64)
		m.SentAt = &t
	}
	if receivedAt.Valid {
		t := time.UnixMilli(receivedAt.Int64)
		m.ReceivedAt = &t
	}
	if readAt.Valid {
		t := time.UnixMilli(readAt.Int64)
		m.ReadAt = &t
	}
	return m, nil
}
