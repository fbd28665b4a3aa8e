// Package identity implements the IdentityVault: the process-wide singleton
// that owns the local peer's long-term Ed25519 signing keypair, the derived
// peer identifier and storage key, and the prekey pool used for asynchronous
// X3DH key agreement (spec.md §3 "Identity", §4.1 IdentityVault).
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("identity")

var (
	// ErrCorrupt is returned by LoadOrCreate when the identity file on disk
	// fails to decode.
	ErrCorrupt = errors.New("identity: stored identity is corrupt")
	// ErrUnknownPrekey is returned when a one-time prekey id is not found
	// in the pool.
	ErrUnknownPrekey = errors.New("identity: unknown one-time prekey id")
)

const fileName = "identity.key"

// storageKeyInfo is the fixed HKDF domain-separation label for deriving the
// at-rest storage key from the signing key (spec.md §4.1).
const storageKeyInfo = "mepassa-storage-key-v1"

// PeerID is the wire/string form of a peer's Ed25519 public key: the lower
// case hex encoding of the 32 raw bytes. PeerIDFromPublicKey and
// PublicKeyFromPeerID are mutual inverses on valid input, per spec.md §8's
// round-trip law.
type PeerID string

// PeerIDFromPublicKey derives the canonical peer identifier for pub.
func PeerIDFromPublicKey(pub ed25519.PublicKey) PeerID {
	return PeerID(hex.EncodeToString(pub))
}

// PublicKeyFromPeerID parses a peer identifier back into raw Ed25519
// public-key bytes.
func PublicKeyFromPeerID(id PeerID) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(string(id))
	if err != nil {
		return nil, fmt.Errorf("identity: decode peer id: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: peer id has wrong length %d", len(b))
	}
	return ed25519.PublicKey(b), nil
}

// Vault is the IdentityVault described in spec.md §4.1: it owns the signing
// keypair, derived peer id, derived storage key, and prekey pool, and
// exposes them behind a mutex so sign/verify (readers) and prekey mutation
// (writers) can be called concurrently from the handler, dispatcher, and
// engine command loop.
type Vault struct {
	mu sync.RWMutex

	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	peer PeerID

	storageKey [cryptoutil.KeySize]byte
	pool       *PreKeyPool

	dataDir string
}

// LoadOrCreate loads the identity persisted under dataDir, or generates and
// persists a new one if none exists. This is the only way to obtain a Vault.
func LoadOrCreate(dataDir string) (*Vault, error) {
	logger := log.WithField("function", "LoadOrCreate")
	logger.WithField("data_dir", dataDir).Info("loading or creating identity")

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, fileName)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		return decodeVault(raw, dataDir)
	case os.IsNotExist(err):
		return createVault(dataDir)
	default:
		return nil, fmt.Errorf("identity: read identity file: %w", err)
	}
}

func createVault(dataDir string) (*Vault, error) {
	pub, priv, err := cryptoutil.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}

	v := &Vault{
		pub:     pub,
		priv:    priv,
		peer:    PeerIDFromPublicKey(pub),
		dataDir: dataDir,
	}
	v.storageKey, err = deriveStorageKey(priv)
	if err != nil {
		return nil, err
	}
	v.pool, err = newPreKeyPool()
	if err != nil {
		return nil, err
	}
	if err := v.pool.initialize(priv); err != nil {
		return nil, err
	}

	if err := v.persist(); err != nil {
		return nil, err
	}
	log.WithField("peer_id", v.peer).Info("created new identity")
	return v, nil
}

func deriveStorageKey(priv ed25519.PrivateKey) ([cryptoutil.KeySize]byte, error) {
	return cryptoutil.HKDF32([]byte("mepassa-identity-v1"), priv.Seed(), []byte(storageKeyInfo))
}

// PeerID returns the local peer's canonical identifier.
func (v *Vault) PeerID() PeerID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.peer
}

// PublicKey returns the local Ed25519 public key.
func (v *Vault) PublicKey() ed25519.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(ed25519.PublicKey, len(v.pub))
	copy(out, v.pub)
	return out
}

// Sign produces a 64-byte Ed25519 signature over msg using the long-term
// signing key.
func (v *Vault) Sign(msg []byte) []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cryptoutil.Sign(v.priv, msg)
}

// Verify checks an Ed25519 signature under an arbitrary remote public key.
// It is a free function in spirit (it does not touch the vault's own key)
// but lives on Vault to match the contract in spec.md §4.1.
func (v *Vault) Verify(peerPub ed25519.PublicKey, msg, sig []byte) bool {
	return cryptoutil.Verify(peerPub, msg, sig)
}

// StorageKey returns the 32-byte AES-256-GCM storage key. It is derived
// from, but never equal to, the signing key, and is never persisted
// independently. No package of this module encrypts store columns with it:
// content_encrypted holds the wire ciphertext exactly as received.
func (v *Vault) StorageKey() [cryptoutil.KeySize]byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.storageKey
}

// PreKeyBundle produces a publishable prekey bundle, consuming one one-time
// prekey from the pool if available (spec.md §4.1). An empty pool is not an
// error: it simply yields a bundle with no one-time prekey, and the caller
// should watch Vault.NeedsReplenish() to trigger ReplenishPreKeys. It fails
// only when persisting the updated pool fails.
func (v *Vault) PreKeyBundle() (PreKeyBundle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	signed := v.pool.signedPreKeyPublic(v.priv)
	bundle := PreKeyBundle{
		IdentityKey:    append(ed25519.PublicKey(nil), v.pub...),
		SignedPreKeyID: v.pool.signedPreKey.ID,
		SignedPreKey:   signed,
		Signature:      v.pool.signedPreKey.Signature,
	}
	if otp, id, ok := v.pool.consumeOneTimePreKey(); ok {
		bundle.OneTimePreKeyID = &id
		bundle.OneTimePreKey = &otp
	}
	if err := v.persistLocked(); err != nil {
		return PreKeyBundle{}, err
	}
	return bundle, nil
}

// PreKeySecretByID looks up the X25519 secret for a one-time prekey id,
// without removing it — removal is the caller's responsibility once the
// X3DH exchange that consumes it has completed (spec.md §4.2 responder
// contract: "must consume the referenced one-time prekey exactly when it
// was used").
func (v *Vault) PreKeySecretByID(id uint32) ([cryptoutil.KeySize]byte, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pool.secretByID(id)
}

// ConsumeOneTimePreKey removes a one-time prekey from the pool by id. It is
// idempotent-safe: consuming an id twice returns false the second time,
// which enforces spec.md §8 invariant 4 (a one-time prekey is used at most
// once).
func (v *Vault) ConsumeOneTimePreKey(id uint32) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ok := v.pool.removeByID(id)
	if ok {
		if err := v.persistLocked(); err != nil {
			return false, err
		}
	}
	return ok, nil
}

// SignedPreKeySecret returns the X25519 secret half of the current signed
// prekey, used by the handler's X3DH responder path (spec.md §4.5 step 1).
func (v *Vault) SignedPreKeySecret() [cryptoutil.KeySize]byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pool.signedPreKey.Priv
}

// OneTimePreKeyCount reports how many one-time prekeys remain unconsumed.
func (v *Vault) OneTimePreKeyCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.pool.oneTime)
}

// NeedsReplenish reports whether the pool has crossed the low-water mark
// (spec.md §3 PreKeyPool: low-water mark 20).
func (v *Vault) NeedsReplenish() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.pool.oneTime) < lowWaterMark
}

// ReplenishPreKeys tops the one-time prekey pool back up to target (capped
// to replenishTarget when target<=0), per spec.md §4.1.
func (v *Vault) ReplenishPreKeys(target int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if target <= 0 {
		target = replenishTarget
	}
	if err := v.pool.replenish(target); err != nil {
		return err
	}
	return v.persistLocked()
}

// RotateSignedPreKey generates a fresh signed prekey and signs it with the
// long-term Ed25519 key, per spec.md §4.1 ("rotated periodically"). Note
// per spec.md §9's open question, this does NOT rotate the signing key
// itself — that is deliberately unsupported.
func (v *Vault) RotateSignedPreKey() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.pool.rotateSignedPreKey(v.priv); err != nil {
		return err
	}
	return v.persistLocked()
}
