// Package ratchet implements PairwiseSession: the per-peer symmetric
// ratchet described in spec.md §4.3. It is modeled on the Double Ratchet's
// chain-key evolution but omits the DH ratchet step (spec.md §4.3,
// "without a DH ratchet step") — a deliberate simplification documented as
// a Non-goal (out-of-order/skipped messages are rejected, not buffered).
package ratchet

import (
	"errors"
	"fmt"
	"time"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("ratchet")

var (
	// ErrOutOfOrder is returned by Decrypt when the incoming counter does
	// not match the session's current receive counter. spec.md §4.3:
	// "Skipped messages are NOT handled in this simplified spec."
	ErrOutOfOrder = errors.New("ratchet: out-of-order or skipped message")
)

// StaleAfter is the staleness window from spec.md §4.3: "A session unused
// for 7 days is removed by the cleanup sweep."
const StaleAfter = 7 * 24 * time.Hour

const (
	rootSalt    = "mepassa-ratchet-v1"
	msgKeySalt  = "mepassa-message-key-v1"
	chainSalt   = "mepassa-chain-ratchet-v1"
	sendInfo    = "sending-chain"
	recvInfo    = "receiving-chain"
	nextInfo    = "next-chain"
	msgInfoTmpl = "message-%d"
)

// Envelope is the wire form of one ratcheted message: the AES-GCM nonce,
// ciphertext, and the chain counter it was encrypted at (so the receiver
// can verify ordering per spec.md §4.3).
type Envelope struct {
	Counter    uint64
	Nonce      [cryptoutil.NonceSize]byte
	Ciphertext []byte
}

// Session is a PairwiseSession: per-remote-peer ratchet state (spec.md §3
// "PairwiseSession").
type Session struct {
	PeerID string

	rootKey        [cryptoutil.KeySize]byte
	sendingChain   [cryptoutil.KeySize]byte
	receivingChain [cryptoutil.KeySize]byte
	sendCounter    uint64
	recvCounter    uint64
	createdAt      time.Time
	lastUsedAt     time.Time
}

// New initializes a PairwiseSession from a shared root key (typically the
// output of x3dh.Initiate/Respond), per spec.md §4.3 "State
// initialization": the two chain keys are derived with role-asymmetric
// labels so that the initiator's sending chain matches the responder's
// receiving chain, and vice versa.
func New(peerID string, rootKey [cryptoutil.KeySize]byte, isInitiator bool) (*Session, error) {
	ck0, err := cryptoutil.HKDF32([]byte(rootSalt), rootKey[:], []byte(sendInfo))
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive CK0: %w", err)
	}
	ck1, err := cryptoutil.HKDF32([]byte(rootSalt), rootKey[:], []byte(recvInfo))
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive CK1: %w", err)
	}

	s := &Session{
		PeerID:    peerID,
		rootKey:   rootKey,
		createdAt: now(),
	}
	s.lastUsedAt = s.createdAt
	if isInitiator {
		s.sendingChain, s.receivingChain = ck0, ck1
	} else {
		s.sendingChain, s.receivingChain = ck1, ck0
	}
	return s, nil
}

// now is overridable only by tests in this package via the package-level
// clock below; production code always uses wall-clock time.
var now = time.Now

// Encrypt produces the next envelope in the sending chain and advances it
// (spec.md §4.3 "Per-message operation").
func (s *Session) Encrypt(plaintext []byte) (Envelope, error) {
	mk, err := cryptoutil.HKDF32([]byte(msgKeySalt), s.sendingChain[:], []byte(fmt.Sprintf(msgInfoTmpl, s.sendCounter)))
	if err != nil {
		return Envelope{}, fmt.Errorf("ratchet: derive message key: %w", err)
	}
	defer cryptoutil.ZeroBytes(mk[:])

	nonce, ciphertext, err := cryptoutil.SealAESGCM(mk, plaintext, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("ratchet: seal: %w", err)
	}

	env := Envelope{Counter: s.sendCounter, Nonce: nonce, Ciphertext: ciphertext}

	next, err := cryptoutil.HKDF32([]byte(chainSalt), s.sendingChain[:], []byte(nextInfo))
	if err != nil {
		return Envelope{}, fmt.Errorf("ratchet: advance sending chain: %w", err)
	}
	cryptoutil.ZeroBytes(s.sendingChain[:])
	s.sendingChain = next
	s.sendCounter++
	s.lastUsedAt = now()

	return env, nil
}

// Decrypt mirrors Encrypt on the receiving chain. The envelope's counter
// must equal the session's current receive counter exactly; any other
// value is rejected with ErrOutOfOrder (spec.md §4.3 invariant and §8
// round-trip law).
func (s *Session) Decrypt(env Envelope) ([]byte, error) {
	if env.Counter != s.recvCounter {
		log.WithField("function", "Decrypt").
			WithField("got_counter", env.Counter).
			WithField("want_counter", s.recvCounter).
			Warn("rejecting out-of-order message")
		return nil, ErrOutOfOrder
	}

	mk, err := cryptoutil.HKDF32([]byte(msgKeySalt), s.receivingChain[:], []byte(fmt.Sprintf(msgInfoTmpl, s.recvCounter)))
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive message key: %w", err)
	}
	defer cryptoutil.ZeroBytes(mk[:])

	plaintext, err := cryptoutil.OpenAESGCM(mk, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ratchet: open: %w", err)
	}

	next, err := cryptoutil.HKDF32([]byte(chainSalt), s.receivingChain[:], []byte(nextInfo))
	if err != nil {
		return nil, fmt.Errorf("ratchet: advance receiving chain: %w", err)
	}
	cryptoutil.ZeroBytes(s.receivingChain[:])
	s.receivingChain = next
	s.recvCounter++
	s.lastUsedAt = now()

	return plaintext, nil
}

// IsStale reports whether the session has gone unused longer than
// StaleAfter (spec.md §4.3 "Staleness policy").
func (s *Session) IsStale() bool {
	return now().Sub(s.lastUsedAt) > StaleAfter
}

// SendCounter and RecvCounter expose the ratchet's current position, used
// by callers that need a consistency check (spec.md §4.5 "Ordering").
func (s *Session) SendCounter() uint64 { return s.sendCounter }
func (s *Session) RecvCounter() uint64 { return s.recvCounter }

// CreatedAt and LastUsedAt expose session lifecycle timestamps for
// persistence and eviction bookkeeping.
func (s *Session) CreatedAt() time.Time  { return s.createdAt }
func (s *Session) LastUsedAt() time.Time { return s.lastUsedAt }
