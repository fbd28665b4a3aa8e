package handler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/edsonmartins/mepassa/internal/eventbus"
	"github.com/edsonmartins/mepassa/internal/groupsession"
	"github.com/edsonmartins/mepassa/internal/identity"
	"github.com/edsonmartins/mepassa/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *store.DB, *eventbus.Bus) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	vault, err := identity.LoadOrCreate(filepath.Join(dir, "identity"))
	require.NoError(t, err)

	bus := eventbus.New()
	h := New(vault, db, bus, filepath.Join(dir, "media"))
	return h, db, bus
}

func TestOnIncomingTextPersistsAndEmits(t *testing.T) {
	h, db, bus := newTestHandler(t)

	var events []eventbus.Event
	bus.Subscribe(eventbus.SubscriberFunc(func(e eventbus.Event) { events = append(events, e) }))

	ack := h.OnIncoming("bob", Envelope{
		MessageID:    "msg-1",
		SenderPeerID: "bob",
		Kind:         KindText,
		Content:      "hello",
		CreatedAt:    time.Now(),
	})

	require.Equal(t, AckReceived, ack.Status)
	require.Len(t, events, 1)
	mr, ok := events[0].(eventbus.MessageReceived)
	require.True(t, ok)
	assert.Equal(t, "hello", mr.Message)

	msg, err := db.GetMessage("msg-1")
	require.NoError(t, err)
	require.NotNil(t, msg.ContentPlaintext)
	assert.Equal(t, "hello", *msg.ContentPlaintext)
}

func TestOnIncomingTextIsIdempotent(t *testing.T) {
	h, db, _ := newTestHandler(t)

	env := Envelope{MessageID: "msg-1", SenderPeerID: "bob", Kind: KindText, Content: "hi"}
	ack1 := h.OnIncoming("bob", env)
	ack2 := h.OnIncoming("bob", env)

	assert.Equal(t, AckReceived, ack1.Status)
	assert.Equal(t, AckReceived, ack2.Status)

	list, err := db.ListMessages(conversationID("bob"), 10, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOnIncomingRejectsEmptyMessageID(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ack := h.OnIncoming("bob", Envelope{SenderPeerID: "bob", Kind: KindText, Content: "hi"})
	assert.Equal(t, AckError, ack.Status)
}

func TestOnIncomingRejectsSenderMismatch(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ack := h.OnIncoming("bob", Envelope{MessageID: "msg-1", SenderPeerID: "mallory", Kind: KindText, Content: "hi"})
	assert.Equal(t, AckError, ack.Status)
}

func TestOnIncomingTypingEmitsEventOnly(t *testing.T) {
	h, db, bus := newTestHandler(t)

	var events []eventbus.Event
	bus.Subscribe(eventbus.SubscriberFunc(func(e eventbus.Event) { events = append(events, e) }))

	ack := h.OnIncoming("bob", Envelope{MessageID: "msg-1", SenderPeerID: "bob", Kind: KindTyping, IsTyping: true})
	require.Equal(t, AckReceived, ack.Status)
	require.Len(t, events, 1)
	_, ok := events[0].(eventbus.TypingStarted)
	assert.True(t, ok)

	exists, err := db.MessageExists("msg-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOnIncomingReadReceiptUpdatesStatus(t *testing.T) {
	h, db, bus := newTestHandler(t)
	conv := seedContactAndConv(t, db, "bob")
	require.NoError(t, db.CreateMessage(store.Message{
		MessageID: "out-1", ConversationID: conv.ID, SenderPeerID: "me",
		RecipientPeerID: strp("bob"), MessageType: "Text", Status: store.StatusSent,
	}))

	var events []eventbus.Event
	bus.Subscribe(eventbus.SubscriberFunc(func(e eventbus.Event) { events = append(events, e) }))

	ack := h.OnIncoming("bob", Envelope{
		MessageID: "msg-receipt-1", SenderPeerID: "bob", Kind: KindReadReceipt,
		AckMessageID: "out-1", ReadAt: time.Now(),
	})
	require.Equal(t, AckReceived, ack.Status)

	msg, err := db.GetMessage("out-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRead, msg.Status)
	require.Len(t, events, 1)
}

func TestOnIncomingSenderKeySeedInstallsMemberKey(t *testing.T) {
	h, _, _ := newTestHandler(t)

	sess, err := groupsession.NewSession("group-1", "me")
	require.NoError(t, err)
	h.RegisterGroupSession("group-1", sess)

	var seed [32]byte
	for i := range seed {
		seed[i] = byte(i)
	}

	ack := h.OnIncoming("bob", Envelope{
		MessageID:    "seed-1",
		SenderPeerID: "bob",
		Kind:         KindSenderKeySeed,
		GroupID:      "group-1",
		Seed:         seed,
	})

	require.Equal(t, AckReceived, ack.Status)
	key, ok := sess.Members["bob"]
	require.True(t, ok)
	assert.Equal(t, seed, key.Seed())
}

func TestOnIncomingSenderKeySeedRejectsUnknownGroup(t *testing.T) {
	h, _, _ := newTestHandler(t)

	ack := h.OnIncoming("bob", Envelope{
		MessageID:    "seed-1",
		SenderPeerID: "bob",
		Kind:         KindSenderKeySeed,
		GroupID:      "no-such-group",
	})

	assert.Equal(t, AckError, ack.Status)
}

func TestOnIncomingGroupSystemPersistsMessageAndEmitsEvent(t *testing.T) {
	h, db, bus := newTestHandler(t)

	require.NoError(t, db.CreateGroup(store.Group{ID: "group-1", CreatorPeerID: "me", Name: "group one", CreatedAt: time.Now()}))
	_, err := db.CreateGroupConversation("group-1", "group one")
	require.NoError(t, err)

	var events []eventbus.Event
	bus.Subscribe(eventbus.SubscriberFunc(func(e eventbus.Event) { events = append(events, e) }))

	ack := h.OnIncoming("me", Envelope{
		MessageID:          "sys-1",
		SenderPeerID:       "me",
		Kind:               KindGroupSystem,
		GroupID:            "group-1",
		SystemAction:       GroupMemberAdded,
		SystemActorPeerID:  "me",
		SystemTargetPeerID: "bob",
	})

	require.Equal(t, AckReceived, ack.Status)

	msg, err := db.GetMessage("sys-1")
	require.NoError(t, err)
	assert.Equal(t, "System", msg.MessageType)
	require.NotNil(t, msg.ContentPlaintext)
	assert.Contains(t, *msg.ContentPlaintext, "bob")

	require.Len(t, events, 1)
	ev, ok := events[0].(eventbus.MemberAdded)
	require.True(t, ok)
	assert.Equal(t, "group-1", ev.GroupID)
	assert.Equal(t, "bob", ev.PeerID)
}

func TestOnIncomingGroupSystemRejectsUnknownGroup(t *testing.T) {
	h, _, _ := newTestHandler(t)

	ack := h.OnIncoming("me", Envelope{
		MessageID:          "sys-1",
		SenderPeerID:       "me",
		Kind:               KindGroupSystem,
		GroupID:            "no-such-group",
		SystemAction:       GroupMemberRemoved,
		SystemActorPeerID:  "me",
		SystemTargetPeerID: "bob",
	})

	assert.Equal(t, AckError, ack.Status)
}

func seedContactAndConv(t *testing.T, db *store.DB, peerID string) store.Conversation {
	t.Helper()
	require.NoError(t, db.UpsertContact(store.Contact{PeerID: peerID, PublicKey: []byte{}}))
	conv, err := db.CreateDirectConversation(peerID, peerID)
	require.NoError(t, err)
	return conv
}
