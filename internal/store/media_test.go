package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetMedia(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "me")
	c := seedConversation(t, db, "bob")
	require.NoError(t, db.CreateMessage(Message{MessageID: "msg-1", ConversationID: c.ID, SenderPeerID: "me", MessageType: "MediaOffer"}))

	width, height := 800, 600
	m := Media{
		MediaHash: "hash-1",
		MessageID: "msg-1",
		MediaType: "Image",
		Size:      1024,
		Width:     &width,
		Height:    &height,
	}
	require.NoError(t, db.CreateMedia(m))

	got, err := db.GetMedia("hash-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), got.Size)
	require.NotNil(t, got.Width)
	assert.Equal(t, 800, *got.Width)
	assert.Nil(t, got.LocalPath)
}

func TestCreateMediaDuplicateHashIsAlreadyExists(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "me")
	c := seedConversation(t, db, "bob")
	require.NoError(t, db.CreateMessage(Message{MessageID: "msg-1", ConversationID: c.ID, SenderPeerID: "me", MessageType: "MediaOffer"}))

	m := Media{MediaHash: "hash-1", MessageID: "msg-1", MediaType: "Image", Size: 1024}
	require.NoError(t, db.CreateMedia(m))
	assert.ErrorIs(t, db.CreateMedia(m), ErrAlreadyExists)
}

func TestSetLocalPaths(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "me")
	c := seedConversation(t, db, "bob")
	require.NoError(t, db.CreateMessage(Message{MessageID: "msg-1", ConversationID: c.ID, SenderPeerID: "me", MessageType: "MediaOffer"}))
	require.NoError(t, db.CreateMedia(Media{MediaHash: "hash-1", MessageID: "msg-1", MediaType: "Image", Size: 1024}))

	local := "/tmp/img.jpg"
	thumb := "/tmp/img_thumb.jpg"
	require.NoError(t, db.SetLocalPaths("hash-1", &local, &thumb))

	got, err := db.GetMedia("hash-1")
	require.NoError(t, err)
	require.NotNil(t, got.LocalPath)
	assert.Equal(t, local, *got.LocalPath)
}
