package identity

import (
	"crypto/ed25519"
	"fmt"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
)

// replenishTarget and lowWaterMark are the pool sizing constants from
// spec.md §3 PreKeyPool: "Replenishment target: 100; low-water mark: 20."
const (
	replenishTarget = 100
	lowWaterMark    = 20
)

// signedPreKeyInfo is the domain-separation label Ed25519-signed over the
// X25519 public key bytes, per spec.md §4.1.
const signedPreKeyInfo = "mepassa-signed-prekey-v1"

// SignedPreKey is the long-lived (periodically rotated) X25519 keypair
// whose public half is authenticated by the identity's Ed25519 signature.
type SignedPreKey struct {
	ID        uint32
	Priv      [cryptoutil.KeySize]byte
	Pub       [cryptoutil.KeySize]byte
	Signature []byte
}

// OneTimePreKey is a single-use X25519 keypair consumed by exactly one X3DH
// exchange (spec.md §3 PreKeyPool invariant).
type OneTimePreKey struct {
	ID   uint32
	Priv [cryptoutil.KeySize]byte
	Pub  [cryptoutil.KeySize]byte
}

// PreKeyBundle is the wire form described in spec.md §3 "PreKeyBundle":
// published so a remote peer can run X3DH asynchronously.
type PreKeyBundle struct {
	IdentityKey    ed25519.PublicKey
	SignedPreKeyID uint32
	SignedPreKey   [cryptoutil.KeySize]byte
	Signature      []byte

	OneTimePreKeyID *uint32
	OneTimePreKey   *[cryptoutil.KeySize]byte
}

// PreKeyPool holds the signed prekey and the map of unconsumed one-time
// prekeys, and the monotonic id counter that guarantees no prekey id is
// ever reused (spec.md §3 invariant).
type PreKeyPool struct {
	nextID       uint32
	signedPreKey SignedPreKey
	oneTime      map[uint32]*OneTimePreKey
}

func newPreKeyPool() (*PreKeyPool, error) {
	p := &PreKeyPool{oneTime: make(map[uint32]*OneTimePreKey)}
	return p, nil
}

// initialize generates the first signed prekey and a full one-time pool; it
// is separated from newPreKeyPool so decodeVault can construct an empty
// pool and fill it from the persisted wire format instead.
func (p *PreKeyPool) initialize(signer ed25519.PrivateKey) error {
	if err := p.rotateSignedPreKey(signer); err != nil {
		return err
	}
	return p.replenish(replenishTarget)
}

func (p *PreKeyPool) rotateSignedPreKey(signer ed25519.PrivateKey) error {
	priv, pub, err := cryptoutil.GenerateX25519KeyPair()
	if err != nil {
		return fmt.Errorf("identity: generate signed prekey: %w", err)
	}
	id := p.allocateID()
	sig := cryptoutil.Sign(signer, signedPreKeySignInput(pub))
	p.signedPreKey = SignedPreKey{ID: id, Priv: priv, Pub: pub, Signature: sig}
	return nil
}

func signedPreKeySignInput(pub [cryptoutil.KeySize]byte) []byte {
	out := make([]byte, 0, len(signedPreKeyInfo)+len(pub))
	out = append(out, []byte(signedPreKeyInfo)...)
	out = append(out, pub[:]...)
	return out
}

// VerifySignedPreKey checks the Ed25519 signature over a signed prekey's
// public bytes, per spec.md §4.1/§4.2 ("Verifiers must check this signature
// before using a bundle").
func VerifySignedPreKey(identityKey ed25519.PublicKey, signedPreKeyPub [cryptoutil.KeySize]byte, signature []byte) bool {
	return cryptoutil.Verify(identityKey, signedPreKeySignInput(signedPreKeyPub), signature)
}

func (p *PreKeyPool) signedPreKeyPublic(signer ed25519.PrivateKey) [cryptoutil.KeySize]byte {
	if p.signedPreKey.Pub == ([cryptoutil.KeySize]byte{}) {
		_ = p.rotateSignedPreKey(signer)
	}
	return p.signedPreKey.Pub
}

// replenish tops the one-time prekey pool up to target entries.
func (p *PreKeyPool) replenish(target int) error {
	for len(p.oneTime) < target {
		priv, pub, err := cryptoutil.GenerateX25519KeyPair()
		if err != nil {
			return fmt.Errorf("identity: generate one-time prekey: %w", err)
		}
		id := p.allocateID()
		p.oneTime[id] = &OneTimePreKey{ID: id, Priv: priv, Pub: pub}
	}
	return nil
}

// consumeOneTimePreKey pops an arbitrary one-time prekey from the pool. Go
// map iteration order is randomized per-process, which is sufficient here:
// the spec places no ordering requirement on which one-time key is handed
// out, only that each id is used at most once.
func (p *PreKeyPool) consumeOneTimePreKey() (pub [cryptoutil.KeySize]byte, id uint32, ok bool) {
	for k, v := range p.oneTime {
		delete(p.oneTime, k)
		return v.Pub, v.ID, true
	}
	return [cryptoutil.KeySize]byte{}, 0, false
}

func (p *PreKeyPool) secretByID(id uint32) ([cryptoutil.KeySize]byte, bool) {
	if id == p.signedPreKey.ID {
		return p.signedPreKey.Priv, true
	}
	otp, ok := p.oneTime[id]
	if !ok {
		return [cryptoutil.KeySize]byte{}, false
	}
	return otp.Priv, true
}

func (p *PreKeyPool) removeByID(id uint32) bool {
	if _, ok := p.oneTime[id]; !ok {
		return false
	}
	delete(p.oneTime, id)
	return true
}

func (p *PreKeyPool) allocateID() uint32 {
	p.nextID++
	if p.nextID == 0 {
		// Wrapped past math.MaxUint32; a process would have to mint four
		// billion prekeys for this to matter, but fail loudly rather than
		// silently reuse id 0.
		panic("identity: prekey id space exhausted")
	}
	return p.nextID
}
