package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetDirectConversation(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "bob")

	c, err := db.CreateDirectConversation("bob", "Bob")
	require.NoError(t, err)

	got, err := db.GetConversation(c.ID)
	require.NoError(t, err)
	assert.Equal(t, ConversationDirect, got.Kind)
	require.NotNil(t, got.PeerID)
	assert.Equal(t, "bob", *got.PeerID)
	assert.Equal(t, 0, got.UnreadCount)
}

func TestRecordIncomingMessageAdvancesConversation(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "bob")
	c, err := db.CreateDirectConversation("bob", "Bob")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, db.RecordIncomingMessage(c.ID, "msg-1", now))

	got, err := db.GetConversation(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, "msg-1", *got.LastMessageID)
}

func TestMarkConversationReadResetsUnread(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "bob")
	c, err := db.CreateDirectConversation("bob", "Bob")
	require.NoError(t, err)
	require.NoError(t, db.RecordIncomingMessage(c.ID, "msg-1", time.Now()))

	require.NoError(t, db.MarkConversationRead(c.ID))

	got, err := db.GetConversation(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount)
}

func TestSetMutedAndArchived(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "bob")
	c, err := db.CreateDirectConversation("bob", "Bob")
	require.NoError(t, err)

	until := time.Now().Add(time.Hour)
	require.NoError(t, db.SetMuted(c.ID, &until))
	require.NoError(t, db.SetArchived(c.ID, true))

	got, err := db.GetConversation(c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsMuted)
	assert.True(t, got.IsArchived)
	require.NotNil(t, got.MutedUntil)
}

func TestListConversationsOrdersByRecentActivity(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "bob")
	seedContact(t, db, "carol")

	c1, err := db.CreateDirectConversation("bob", "Bob")
	require.NoError(t, err)
	c2, err := db.CreateDirectConversation("carol", "Carol")
	require.NoError(t, err)

	require.NoError(t, db.RecordIncomingMessage(c2.ID, "msg-1", time.Now()))

	list, err := db.ListConversations()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c2.ID, list[0].ID)
	assert.Equal(t, c1.ID, list[1].ID)
}
