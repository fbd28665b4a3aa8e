package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var gotA, gotB []Event

	bus.Subscribe(SubscriberFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		gotA = append(gotA, e)
	}))
	bus.Subscribe(SubscriberFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		gotB = append(gotB, e)
	}))

	bus.Publish(MessageReceived{ID: "m1", From: "bob", Message: "hi"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, MessageReceived{ID: "m1", From: "bob", Message: "hi"}, gotA[0])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	var count int
	id := bus.Subscribe(SubscriberFunc(func(Event) { count++ }))

	bus.Publish(PeerConnected{Peer: "bob"})
	bus.Unsubscribe(id)
	bus.Publish(PeerConnected{Peer: "bob"})

	assert.Equal(t, 1, count)
}

func TestPanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := New()
	var delivered bool

	bus.Subscribe(SubscriberFunc(func(Event) { panic("boom") }))
	bus.Subscribe(SubscriberFunc(func(Event) { delivered = true }))

	require.NotPanics(t, func() {
		bus.Publish(TypingStarted{Peer: "bob"})
	})
	assert.True(t, delivered)
}

func TestUnknownUnsubscribeIsNoop(t *testing.T) {
	bus := New()
	require.NotPanics(t, func() { bus.Unsubscribe(42) })
}
