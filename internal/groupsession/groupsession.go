// Package groupsession implements the Sender-Key group cryptography
// described in spec.md §4.4: each member ratchets its own chain key
// forward on every broadcast message, and every other member holds a
// replica of that chain to decrypt it (§3 "GroupSession", "SenderKey").
package groupsession

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("groupsession")

var (
	// ErrUnknownSender is returned by Decrypt when no SenderKey is on file
	// for the purported sender (spec.md §4.4 "Reception").
	ErrUnknownSender = errors.New("groupsession: unknown sender")
	// ErrReplay is returned when the ciphertext's counter is lower than the
	// stored counter (spec.md §4.4 "Reception").
	ErrReplay = errors.New("groupsession: replayed counter")
	// ErrOutOfOrder is returned when the ciphertext's counter is higher
	// than the stored counter. spec.md §4.4: "Out-of-order delivery above
	// the stored counter is not handled in this simplified spec and MUST
	// cause OutOfOrder."
	ErrOutOfOrder = errors.New("groupsession: out-of-order delivery")
)

const (
	keySalt  = "mepassa-sender-key-v1"
	nextSalt = "mepassa-sender-chain-v1"
)

// SenderKey is a per-member symmetric ratchet used to author or verify one
// member's broadcast traffic within a group (spec.md §3 "SenderKey").
type SenderKey struct {
	SenderID   string
	chainKey   [cryptoutil.KeySize]byte
	Counter    uint64
	LastUsedAt time.Time
}

// NewSenderKey generates a fresh random 32-byte seed for senderID's own
// ratchet, per spec.md §4.4 "Creation": "generates a random 32-byte seed
// for its own SenderKey. The seed is the initial chain key; the SenderKey's
// counter starts at 0."
func NewSenderKey(senderID string) (*SenderKey, error) {
	var seed [cryptoutil.KeySize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, fmt.Errorf("groupsession: generate sender-key seed: %w", err)
	}
	return &SenderKey{SenderID: senderID, chainKey: seed, LastUsedAt: time.Now()}, nil
}

// FromSeed reconstructs a SenderKey from a seed distributed by its owner
// over a pairwise E2EE channel (spec.md §4.4 "Creation": "The seed is
// distributed to other members through the pairwise session with each,
// constituting the group's authentication").
func FromSeed(senderID string, seed [cryptoutil.KeySize]byte) *SenderKey {
	return &SenderKey{SenderID: senderID, chainKey: seed, LastUsedAt: time.Now()}
}

// Seed returns the current chain key, to be shared with a new member via a
// pairwise session when they join a group this sender already belongs to.
func (k *SenderKey) Seed() [cryptoutil.KeySize]byte { return k.chainKey }

// Envelope is the wire form of one group-broadcast message.
type Envelope struct {
	SenderID   string
	Counter    uint64
	Nonce      [cryptoutil.NonceSize]byte
	Ciphertext []byte
}

// Encrypt produces the next broadcast envelope for the local sender-key and
// ratchets its chain key forward (spec.md §4.4 "Broadcast encryption").
func (k *SenderKey) Encrypt(plaintext []byte) (Envelope, error) {
	mk, err := messageKey(k.chainKey, k.SenderID, k.Counter)
	if err != nil {
		return Envelope{}, err
	}
	defer cryptoutil.ZeroBytes(mk[:])

	nonce, ciphertext, err := cryptoutil.SealAESGCM(mk, plaintext, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("groupsession: seal: %w", err)
	}
	env := Envelope{SenderID: k.SenderID, Counter: k.Counter, Nonce: nonce, Ciphertext: ciphertext}

	if err := k.ratchet(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Decrypt verifies and decrypts a broadcast envelope from this SenderKey's
// owner. A counter equal to the stored counter is the only value accepted:
// lower is a replay, higher is out-of-order delivery (spec.md §4.4
// "Reception").
func (k *SenderKey) Decrypt(env Envelope) ([]byte, error) {
	switch {
	case env.Counter < k.Counter:
		return nil, ErrReplay
	case env.Counter > k.Counter:
		return nil, ErrOutOfOrder
	}

	mk, err := messageKey(k.chainKey, k.SenderID, k.Counter)
	if err != nil {
		return nil, err
	}
	defer cryptoutil.ZeroBytes(mk[:])

	plaintext, err := cryptoutil.OpenAESGCM(mk, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("groupsession: open: %w", err)
	}

	if err := k.ratchet(); err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (k *SenderKey) ratchet() error {
	next, err := cryptoutil.HKDF32([]byte(nextSalt), k.chainKey[:], []byte("next-chain"))
	if err != nil {
		return fmt.Errorf("groupsession: ratchet chain: %w", err)
	}
	cryptoutil.ZeroBytes(k.chainKey[:])
	k.chainKey = next
	k.Counter++
	k.LastUsedAt = time.Now()
	return nil
}

func messageKey(chainKey [cryptoutil.KeySize]byte, senderID string, counter uint64) ([cryptoutil.KeySize]byte, error) {
	info := fmt.Sprintf("message-%s-%d", senderID, counter)
	mk, err := cryptoutil.HKDF32([]byte(keySalt), chainKey[:], []byte(info))
	if err != nil {
		return [32]byte{}, fmt.Errorf("groupsession: derive message key: %w", err)
	}
	return mk, nil
}

// Session is the per-group GroupSession: the local member's own SenderKey
// plus one replica per other member (spec.md §3 "GroupSession").
type Session struct {
	GroupID string
	MyKey   *SenderKey
	Members map[string]*SenderKey // member peer id -> their SenderKey replica
}

// NewSession creates a GroupSession for a freshly created or joined group,
// generating the local member's own SenderKey.
func NewSession(groupID, selfPeerID string) (*Session, error) {
	mine, err := NewSenderKey(selfPeerID)
	if err != nil {
		return nil, err
	}
	return &Session{GroupID: groupID, MyKey: mine, Members: make(map[string]*SenderKey)}, nil
}

// AddMemberKey installs a replica of another member's SenderKey, received
// over a pairwise session (spec.md §4.4 "Creation").
func (s *Session) AddMemberKey(peerID string, seed [cryptoutil.KeySize]byte) {
	s.Members[peerID] = FromSeed(peerID, seed)
}

// EncryptOutgoing encrypts plaintext for broadcast using the local member's
// own SenderKey.
func (s *Session) EncryptOutgoing(plaintext []byte) (Envelope, error) {
	return s.MyKey.Encrypt(plaintext)
}

// DecryptIncoming looks up the purported sender's SenderKey and decrypts,
// per spec.md §4.4 "Reception".
func (s *Session) DecryptIncoming(env Envelope) ([]byte, error) {
	key, ok := s.Members[env.SenderID]
	if !ok {
		log.WithField("function", "DecryptIncoming").
			WithField("sender_id", env.SenderID).
			Warn("rejecting broadcast from unknown sender")
		return nil, ErrUnknownSender
	}
	return key.Decrypt(env)
}

// RemoveMemberKey evicts a member's SenderKey, e.g. after they are removed
// from the group. Per spec.md §4.4 "Membership actions", removed members'
// historical traffic remains decryptable with a locally-retained key until
// eviction; forward secrecy beyond that requires a re-key flow, which is a
// documented open question (spec.md §9) this engine does not implement.
func (s *Session) RemoveMemberKey(peerID string) {
	delete(s.Members, peerID)
}

// MemberCount returns the number of distinct members with a known
// SenderKey, including the local member (spec.md §8 scenario S5:
// "All three report member_count=3").
func (s *Session) MemberCount() int {
	return len(s.Members) + 1
}
