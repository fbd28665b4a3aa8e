package handler

import (
	"sync"

	"github.com/edsonmartins/mepassa/internal/ratchet"
)

// sessionStore holds one PairwiseSession per remote peer, guarded by a
// per-peer lock so the five-step X3DH session-establishment sequence in
// spec.md §4.5 is atomic: concurrent encrypted messages from the same peer
// referencing the same one-time-prekey id must not both establish a session
// and consume the prekey twice.
type sessionStore struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]*ratchet.Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]*ratchet.Session),
	}
}

// lockFor returns the per-peer mutex, creating it on first use.
func (s *sessionStore) lockFor(peerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[peerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[peerID] = l
	}
	return l
}

func (s *sessionStore) get(peerID string) (*ratchet.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[peerID]
	return sess, ok
}

func (s *sessionStore) put(peerID string, sess *ratchet.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[peerID] = sess
}

// sweepStale removes sessions idle past ratchet.StaleAfter (spec.md §4.3
// "A session unused for 7 days is removed by the cleanup sweep").
func (s *sessionStore) sweepStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for peerID, sess := range s.sessions {
		if sess.IsStale() {
			delete(s.sessions, peerID)
			removed++
		}
	}
	return removed
}
