package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Contact mirrors spec.md §3 "Contact". Every peer_id referenced by any
// other table's foreign key must exist as a Contact first, including the
// local peer itself (spec.md §3 precondition).
type Contact struct {
	PeerID           string
	Username         *string
	DisplayName      *string
	PublicKey        []byte
	PreKeyBundleJSON *string
	CreatedAt        time.Time
	LastUpdated      time.Time
	LastSeenAt       *time.Time
}

// UpsertContact inserts a new contact or updates an existing one's mutable
// fields, keyed by peer_id.
func (db *DB) UpsertContact(c Contact) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.LastUpdated = now

	_, err := db.conn.Exec(`
		INSERT INTO contacts (peer_id, username, display_name, public_key, prekey_bundle_json, created_at, last_updated, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			username=excluded.username,
			display_name=excluded.display_name,
			public_key=excluded.public_key,
			prekey_bundle_json=excluded.prekey_bundle_json,
			last_updated=excluded.last_updated,
			last_seen_at=COALESCE(excluded.last_seen_at, contacts.last_seen_at)
	`,
		c.PeerID, nullableString(c.Username), nullableString(c.DisplayName), c.PublicKey,
		nullableString(c.PreKeyBundleJSON), c.CreatedAt.UnixMilli(), c.LastUpdated.UnixMilli(), nullableTime(c.LastSeenAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: upsert contact: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("store: upsert contact: %w", err)
	}
	return nil
}

// GetContact looks up a contact by peer id.
func (db *DB) GetContact(peerID string) (Contact, error) {
	row := db.conn.QueryRow(`
		SELECT peer_id, username, display_name, public_key, prekey_bundle_json, created_at, last_updated, last_seen_at
		FROM contacts WHERE peer_id = ?
	`, peerID)
	return scanContact(row)
}

// GetContactByUsername looks up a contact by its globally unique username.
func (db *DB) GetContactByUsername(username string) (Contact, error) {
	row := db.conn.QueryRow(`
		SELECT peer_id, username, display_name, public_key, prekey_bundle_json, created_at, last_updated, last_seen_at
		FROM contacts WHERE username = ?
	`, username)
	return scanContact(row)
}

// TouchLastSeen updates a contact's last_seen_at to now.
func (db *DB) TouchLastSeen(peerID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`UPDATE contacts SET last_seen_at = ? WHERE peer_id = ?`, time.Now().UnixMilli(), peerID)
	if err != nil {
		return fmt.Errorf("store: touch last seen: %w", err)
	}
	return mustAffectOne(res)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanContact(row scannable) (Contact, error) {
	var c Contact
	var username, displayName, bundle sql.NullString
	var createdAt, lastUpdated int64
	var lastSeenAt sql.NullInt64

	err := row.Scan(&c.PeerID, &username, &displayName, &c.PublicKey, &bundle, &createdAt, &lastUpdated, &lastSeenAt)
	if err == sql.ErrNoRows {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("store: scan contact: %w", err)
	}

	c.CreatedAt = time.UnixMilli(createdAt)
	c.LastUpdated = time.UnixMilli(lastUpdated)
	if username.Valid {
		c.Username = &username.String
	}
	if displayName.Valid {
		c.DisplayName = &displayName.String
	}
	if bundle.Valid {
		c.PreKeyBundleJSON = &bundle.String
	}
	if lastSeenAt.Valid {
		t := time.UnixMilli(lastSeenAt.Int64)
		c.LastSeenAt = &t
	}
	return c, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func mustAffectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
