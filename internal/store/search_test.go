package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMessagesMatchesPlaintext(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "me")
	c := seedConversation(t, db, "bob")

	hello := "hello there, how are you"
	goodbye := "goodbye for now"
	require.NoError(t, db.CreateMessage(Message{
		MessageID: "msg-1", ConversationID: c.ID, SenderPeerID: "me", MessageType: "Text",
		ContentPlaintext: &hello,
	}))
	require.NoError(t, db.CreateMessage(Message{
		MessageID: "msg-2", ConversationID: c.ID, SenderPeerID: "me", MessageType: "Text",
		ContentPlaintext: &goodbye,
	}))

	hits, err := db.SearchMessages("hello", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "msg-1", hits[0].MessageID)
}

func TestSearchMessagesExcludesSoftDeleted(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "me")
	c := seedConversation(t, db, "bob")

	hello := "hello there"
	require.NoError(t, db.CreateMessage(Message{
		MessageID: "msg-1", ConversationID: c.ID, SenderPeerID: "me", MessageType: "Text",
		ContentPlaintext: &hello,
	}))
	require.NoError(t, db.SoftDeleteMessage("msg-1"))

	hits, err := db.SearchMessages("hello", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchMessagesInConversationScoped(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "me")
	seedContact(t, db, "carol")
	c1 := seedConversation(t, db, "bob")
	c2, err := db.CreateDirectConversation("carol", "Carol")
	require.NoError(t, err)

	hello := "hello world"
	require.NoError(t, db.CreateMessage(Message{
		MessageID: "msg-1", ConversationID: c1.ID, SenderPeerID: "me", MessageType: "Text",
		ContentPlaintext: &hello,
	}))
	require.NoError(t, db.CreateMessage(Message{
		MessageID: "msg-2", ConversationID: c2.ID, SenderPeerID: "me", MessageType: "Text",
		ContentPlaintext: &hello,
	}))

	hits, err := db.SearchMessagesInConversation(c1.ID, "hello", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "msg-1", hits[0].MessageID)
}
