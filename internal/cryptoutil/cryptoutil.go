// Package cryptoutil implements the cryptographic primitives shared by the
// rest of the engine: AES-256-GCM AEAD, HKDF-SHA256 key derivation, X25519
// Diffie-Hellman, and Ed25519 signing.
//
// Every primitive here is a thin, validated wrapper around golang.org/x/crypto
// and the standard library crypto packages; no primitive is reimplemented.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("cryptoutil")

// KeySize is the width in bytes of every symmetric key, chain key, root
// key and X25519 key handled by this package.
const KeySize = 32

// NonceSize is the width in bytes of the AES-GCM nonce used throughout the
// engine, per spec.md's AEAD definition.
const NonceSize = 12

var (
	// ErrAEADFailed covers AES-GCM seal/open failures: bad key, tampered
	// ciphertext, or wrong nonce length.
	ErrAEADFailed = errors.New("cryptoutil: AEAD operation failed")
	// ErrBadSignature covers an Ed25519 verification failure.
	ErrBadSignature = errors.New("cryptoutil: signature verification failed")
	// ErrZeroKey is returned when a caller passes an all-zero secret key.
	ErrZeroKey = errors.New("cryptoutil: key material is all zeros")
)

// GenerateX25519KeyPair creates a new X25519 key-agreement key pair using
// crypto/rand as its entropy source.
func GenerateX25519KeyPair() (priv, pub [KeySize]byte, err error) {
	logger := log.WithField("function", "GenerateX25519KeyPair")
	logger.Debug("generating X25519 keypair")

	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		logger.WithField("error", err.Error()).Error("failed to read entropy")
		return [32]byte{}, [32]byte{}, fmt.Errorf("cryptoutil: generate X25519 key: %w", err)
	}
	// Clamp per curve25519 convention.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// X25519 performs a Diffie-Hellman exchange, returning the raw shared point.
// Callers must run the result through HKDF before using it as a key — the
// raw DH output is not uniformly random.
func X25519(priv, pub [KeySize]byte) ([KeySize]byte, error) {
	if isZero(priv[:]) {
		return [32]byte{}, ErrZeroKey
	}
	var out [32]byte
	curve25519.ScalarMult(&out, &priv, &pub)
	if isZero(out[:]) {
		// All-zero output indicates a low-order point was supplied.
		return [32]byte{}, fmt.Errorf("cryptoutil: X25519: %w", ErrZeroKey)
	}
	return out, nil
}

// HKDF derives L bytes of key material from ikm using salt and info, per
// RFC 5869 (extract-then-expand, SHA-256). This is the single derivation
// primitive used by x3dh, ratchet, groupsession and identity — every HKDF
// call in the engine funnels through here so the salts/info strings stay
// centrally auditable.
func HKDF(salt, ikm, info []byte, l int) ([]byte, error) {
	r := hkdf.New(newSHA256Hash, ikm, salt, info)
	out := make([]byte, l)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("cryptoutil: HKDF expand: %w", err)
	}
	return out, nil
}

// HKDF32 is HKDF specialized to the engine's universal 32-byte key width.
func HKDF32(salt, ikm, info []byte) ([KeySize]byte, error) {
	raw, err := HKDF(salt, ikm, info, KeySize)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], raw)
	ZeroBytes(raw)
	return out, nil
}

// SealAESGCM encrypts plaintext under key with a freshly generated random
// nonce, returning nonce and ciphertext||tag separately so callers can pick
// their own wire framing (spec.md §4.3/§4.7 both store nonce and ciphertext
// as distinct fields).
func SealAESGCM(key [KeySize]byte, plaintext, additionalData []byte) (nonce [NonceSize]byte, ciphertext []byte, err error) {
	if _, err = io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("cryptoutil: generate nonce: %w", err)
	}
	ciphertext, err = sealAESGCMWithNonce(key, nonce, plaintext, additionalData)
	return nonce, ciphertext, err
}

// OpenAESGCM decrypts ciphertext produced by SealAESGCM or sealAESGCMWithNonce.
func OpenAESGCM(key [KeySize]byte, nonce [NonceSize]byte, ciphertext, additionalData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", ErrAEADFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new GCM: %v", ErrAEADFailed, err)
	}
	plaintext, err := gcm.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrAEADFailed, err)
	}
	return plaintext, nil
}

func sealAESGCMWithNonce(key [KeySize]byte, nonce [NonceSize]byte, plaintext, additionalData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", ErrAEADFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new GCM: %v", ErrAEADFailed, err)
	}
	return gcm.Seal(nil, nonce[:], plaintext, additionalData), nil
}

// GenerateEd25519KeyPair creates a new Ed25519 signing key pair.
func GenerateEd25519KeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: generate Ed25519 key: %w", err)
	}
	return pub, priv, nil
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid Ed25519 signature over msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// ZeroBytes overwrites b with zeros in place. Used after deriving and
// consuming chain keys, message keys, and DH outputs so they do not linger
// in memory longer than necessary.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func newSHA256Hash() hash.Hash { return sha256.New() }
