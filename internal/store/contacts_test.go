package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedContact(t *testing.T, db *DB, peerID string) Contact {
	t.Helper()
	c := Contact{PeerID: peerID, PublicKey: []byte("pubkey-" + peerID)}
	require.NoError(t, db.UpsertContact(c))
	return c
}

func TestUpsertAndGetContact(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "alice")

	got, err := db.GetContact("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.PeerID)
	assert.Equal(t, []byte("pubkey-alice"), got.PublicKey)
	assert.Nil(t, got.Username)
}

func TestUpsertContactUpdatesExistingRow(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "alice")

	name := "alice_w"
	require.NoError(t, db.UpsertContact(Contact{PeerID: "alice", PublicKey: []byte("pubkey-alice"), Username: &name}))

	got, err := db.GetContact("alice")
	require.NoError(t, err)
	require.NotNil(t, got.Username)
	assert.Equal(t, "alice_w", *got.Username)
}

func TestGetContactNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetContact("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetContactByUsername(t *testing.T) {
	db := openTestDB(t)
	name := "alice_w"
	require.NoError(t, db.UpsertContact(Contact{PeerID: "alice", PublicKey: []byte("k"), Username: &name}))

	got, err := db.GetContactByUsername("alice_w")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.PeerID)
}

func TestTouchLastSeen(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "alice")

	require.NoError(t, db.TouchLastSeen("alice"))

	got, err := db.GetContact("alice")
	require.NoError(t, err)
	require.NotNil(t, got.LastSeenAt)
}

func TestTouchLastSeenMissingPeerReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	assert.ErrorIs(t, db.TouchLastSeen("nobody"), ErrNotFound)
}
