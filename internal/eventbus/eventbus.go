// Package eventbus implements the typed, asynchronous, multi-consumer
// publication surface described in spec.md §4.9. Subscribers register
// capability objects implementing Subscriber; the bus clones (by value,
// since every Event variant here is a plain data struct) each event once
// per subscriber and delivers cooperatively with no back-pressure.
// Subscribers are called one after another on the publishing goroutine, so
// a slow subscriber delays delivery to those after it; a panicking
// subscriber is recovered and does not stop delivery to the others.
//
// Grounded on toxcore's callback-registry idiom (a mutex-guarded slice of
// boxed handlers invoked in a goroutine per dispatch) rather than its
// single-callback-per-event-type API, since spec.md calls for
// "homogeneous sequence of boxed capabilities" receiving every event.
package eventbus

import (
	"sync"
	"time"

	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("eventbus")

// Event is the closed set of value types spec.md §4.9 names. Exactly one
// field set is populated per concrete type below; Event itself is a marker
// interface satisfied only by this package's structs.
type Event interface{ isEvent() }

type MessageReceived struct {
	ID      string
	From    string
	Message string
}

type MessageSent struct {
	ID string
	To string
}

type MessageDelivered struct {
	ID string
	To string
}

type MessageRead struct {
	ID     string
	By     string
	ReadAt time.Time
}

type TypingStarted struct{ Peer string }
type TypingStopped struct{ Peer string }
type PeerConnected struct{ Peer string }

type GroupCreated struct{ GroupID string }
type GroupJoined struct{ GroupID string }
type GroupLeft struct{ GroupID string }

type MemberAdded struct {
	GroupID string
	PeerID  string
}

type MemberRemoved struct {
	GroupID string
	PeerID  string
}

type GroupUpdated struct{ GroupID string }

func (MessageReceived) isEvent()  {}
func (MessageSent) isEvent()      {}
func (MessageDelivered) isEvent() {}
func (MessageRead) isEvent()      {}
func (TypingStarted) isEvent()    {}
func (TypingStopped) isEvent()    {}
func (PeerConnected) isEvent()    {}
func (GroupCreated) isEvent()     {}
func (GroupJoined) isEvent()      {}
func (GroupLeft) isEvent()        {}
func (MemberAdded) isEvent()      {}
func (MemberRemoved) isEvent()    {}
func (GroupUpdated) isEvent()     {}

// Subscriber is the capability interface consumers implement to receive
// events (spec.md §4.9's "dynamic dispatch for event callbacks").
type Subscriber interface {
	OnEvent(Event)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) OnEvent(e Event) { f(e) }

// Bus fans out published events to every registered subscriber.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]Subscriber
	next int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]Subscriber)}
}

// Subscribe registers s and returns a handle Unsubscribe can later use.
func (b *Bus) Subscribe(s Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = s
	return id
}

// Unsubscribe removes a previously registered subscriber. A no-op if the
// handle is unknown (already unsubscribed).
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers event to every current subscriber. Each subscriber is
// invoked synchronously in its own recovered call so a panicking or slow
// subscriber cannot break delivery to the others; per spec.md §4.9 there is
// no back-pressure, so Publish never blocks on a subscriber doing slow work
// beyond that single call.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("function", "deliver").WithField("panic", r).Warn("subscriber panicked handling event")
		}
	}()
	s.OnEvent(event)
}
