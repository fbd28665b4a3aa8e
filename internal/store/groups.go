package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GroupRole mirrors spec.md §3 "GroupMember.role".
type GroupRole string

const (
	RoleCreator GroupRole = "creator"
	RoleAdmin   GroupRole = "admin"
	RoleMember  GroupRole = "member"
)

// Group mirrors spec.md §3 "Group".
type Group struct {
	ID            string
	Name          string
	Description   *string
	AvatarHash    *string
	CreatorPeerID string
	CreatedAt     time.Time
	IsLeft        bool
	Topic         string
}

// GroupMember mirrors spec.md §3 "GroupMember".
type GroupMember struct {
	GroupID  string
	PeerID   string
	Role     GroupRole
	JoinedAt time.Time
	LeftAt   *time.Time
}

// CreateGroup inserts a new group with its creator already a member with
// RoleCreator, in a single transaction (spec.md §3 invariant: a group always
// has at least its creator as a member).
func (db *DB) CreateGroup(g Group) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: create group: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO groups (id, name, description, avatar_hash, creator_peer_id, created_at, is_left, topic)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, g.ID, g.Name, nullableString(g.Description), nullableString(g.AvatarHash), g.CreatorPeerID,
		g.CreatedAt.UnixMilli(), g.Topic); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: create group: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("store: create group: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO group_members (group_id, peer_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`, g.ID, g.CreatorPeerID, string(RoleCreator), g.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("store: add creator as member: %w", err)
	}

	return tx.Commit()
}

// GetGroup loads a group by id.
func (db *DB) GetGroup(id string) (Group, error) {
	row := db.conn.QueryRow(`
		SELECT id, name, description, avatar_hash, creator_peer_id, created_at, is_left, topic
		FROM groups WHERE id = ?
	`, id)
	return scanGroup(row)
}

// SetGroupLeft marks the local user as having left a group (spec.md §3
// "is_left").
func (db *DB) SetGroupLeft(groupID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`UPDATE groups SET is_left = 1 WHERE id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("store: set group left: %w", err)
	}
	return mustAffectOne(res)
}

// AddGroupMember adds a peer to a group with the given role. callerPeerID
// must be the group's creator or a current admin (spec.md §4.4 "Membership
// actions. Admin-only operations (add, remove, promote, demote)").
func (db *DB) AddGroupMember(callerPeerID string, m GroupMember) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}

	if err := db.requireAdmin(m.GroupID, callerPeerID); err != nil {
		return err
	}

	_, err := db.conn.Exec(`
		INSERT INTO group_members (group_id, peer_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`, m.GroupID, m.PeerID, string(m.Role), m.JoinedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: add group member: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("store: add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember stamps left_at rather than deleting the row, preserving
// history for any messages already attributed to that member. callerPeerID
// must be an admin or the creator, and peerID must not be the group's
// creator (spec.md §4.4: "Admin-only operations... creator cannot be
// removed or demoted").
func (db *DB) RemoveGroupMember(callerPeerID, groupID, peerID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.requireAdmin(groupID, callerPeerID); err != nil {
		return err
	}
	if err := db.requireNotCreator(groupID, peerID); err != nil {
		return err
	}

	res, err := db.conn.Exec(`UPDATE group_members SET left_at = ? WHERE group_id = ? AND peer_id = ? AND left_at IS NULL`,
		time.Now().UnixMilli(), groupID, peerID)
	if err != nil {
		return fmt.Errorf("store: remove group member: %w", err)
	}
	return mustAffectOne(res)
}

// PromoteToAdmin raises peerID from member to admin. callerPeerID must be
// an admin or the creator (spec.md §4.4 "promote").
func (db *DB) PromoteToAdmin(callerPeerID, groupID, peerID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.requireAdmin(groupID, callerPeerID); err != nil {
		return err
	}
	return db.setMemberRole(groupID, peerID, RoleAdmin)
}

// DemoteToMember lowers peerID from admin back to member. callerPeerID must
// be an admin or the creator, and peerID must not be the group's creator
// (spec.md §4.4 "demote... creator cannot be removed or demoted").
func (db *DB) DemoteToMember(callerPeerID, groupID, peerID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.requireAdmin(groupID, callerPeerID); err != nil {
		return err
	}
	if err := db.requireNotCreator(groupID, peerID); err != nil {
		return err
	}
	return db.setMemberRole(groupID, peerID, RoleMember)
}

func (db *DB) setMemberRole(groupID, peerID string, role GroupRole) error {
	res, err := db.conn.Exec(`
		UPDATE group_members SET role = ? WHERE group_id = ? AND peer_id = ? AND left_at IS NULL
	`, string(role), groupID, peerID)
	if err != nil {
		return fmt.Errorf("store: set member role: %w", err)
	}
	return mustAffectOne(res)
}

// requireAdmin reports ErrPermissionDenied unless peerID is the group's
// creator or a current (not-left) admin member. Must be called with
// writeMu held.
func (db *DB) requireAdmin(groupID, peerID string) error {
	g, err := db.GetGroup(groupID)
	if err != nil {
		return fmt.Errorf("store: require admin: %w", err)
	}
	if g.CreatorPeerID == peerID {
		return nil
	}

	var role string
	err = db.conn.QueryRow(`
		SELECT role FROM group_members WHERE group_id = ? AND peer_id = ? AND left_at IS NULL
	`, groupID, peerID).Scan(&role)
	if err == sql.ErrNoRows || (err == nil && GroupRole(role) != RoleAdmin) {
		return fmt.Errorf("store: require admin: %w", ErrPermissionDenied)
	}
	if err != nil {
		return fmt.Errorf("store: require admin: %w", err)
	}
	return nil
}

// requireNotCreator reports ErrPermissionDenied if peerID is the group's
// creator (spec.md §4.4 "creator cannot be removed or demoted"). Must be
// called with writeMu held.
func (db *DB) requireNotCreator(groupID, peerID string) error {
	g, err := db.GetGroup(groupID)
	if err != nil {
		return fmt.Errorf("store: require not creator: %w", err)
	}
	if g.CreatorPeerID == peerID {
		return fmt.Errorf("store: require not creator: %w", ErrPermissionDenied)
	}
	return nil
}

// ListGroupMembers returns a group's current (not-yet-left) members.
func (db *DB) ListGroupMembers(groupID string) ([]GroupMember, error) {
	rows, err := db.conn.Query(`
		SELECT group_id, peer_id, role, joined_at, left_at
		FROM group_members WHERE group_id = ? AND left_at IS NULL
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: list group members: %w", err)
	}
	defer rows.Close()

	var out []GroupMember
	for rows.Next() {
		var m GroupMember
		var role string
		var joinedAt int64
		var leftAt sql.NullInt64
		if err := rows.Scan(&m.GroupID, &m.PeerID, &role, &joinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("store: scan group member: %w", err)
		}
		m.Role = GroupRole(role)
		m.JoinedAt = time.UnixMilli(joinedAt)
		if leftAt.Valid {
			t := time.UnixMilli(leftAt.Int64)
			m.LeftAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanGroup(row scannable) (Group, error) {
	var g Group
	var description, avatarHash sql.NullString
	var createdAt int64
	var isLeft bool

	err := row.Scan(&g.ID, &g.Name, &description, &avatarHash, &g.CreatorPeerID, &createdAt, &isLeft, &g.Topic)
	if err == sql.ErrNoRows {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("store: scan group: %w", err)
	}

	g.CreatedAt = time.UnixMilli(createdAt)
	g.IsLeft = isLeft
	if description.Valid {
		g.Description = &description.String
	}
	if avatarHash.Valid {
		g.AvatarHash = &avatarHash.String
	}
	return g, nil
}
