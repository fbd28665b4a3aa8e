// Package x3dh implements the simplified Extended Triple Diffie-Hellman key
// agreement described in spec.md §4.2: an initiator consumes a peer's
// prekey bundle and derives a shared secret using one or two Diffie-Hellman
// operations against an ephemeral key, without the identity-key DHs full
// Signal X3DH performs (that omission is a deliberate spec Non-goal — peer
// authentication happens at the overlay's transport-security handshake,
// outside this engine's scope).
package x3dh

import (
	"errors"
	"fmt"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
	"github.com/edsonmartins/mepassa/internal/identity"
	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("x3dh")

// ErrInvalidBundle is returned when a prekey bundle's signed-prekey
// signature fails to verify under its claimed identity key.
var ErrInvalidBundle = errors.New("x3dh: invalid prekey bundle signature")

const (
	saltV1 = "mepassa-x3dh-v1"
	infoV1 = "shared-secret"
)

// Result is the outcome of Initiate: the derived shared secret and the
// ephemeral public key the initiator must send to the responder so it can
// reproduce the same secret.
type Result struct {
	SharedSecret [cryptoutil.KeySize]byte
	EphemeralPub [cryptoutil.KeySize]byte
}

// Initiate runs the initiator side of X3DH against a peer's published
// prekey bundle (spec.md §4.2 "Contract (initiator)").
//
// It verifies bundle.Signature over bundle.SignedPreKey using
// bundle.IdentityKey, generates a fresh ephemeral X25519 keypair, computes
// DH1 = DH(E, SPK_B) and, if the bundle carries a one-time prekey,
// DH2 = DH(E, OPK_B), then derives the shared secret via HKDF over
// DH1 ∥ DH2?.
func Initiate(bundle identity.PreKeyBundle) (Result, error) {
	logger := log.WithField("function", "Initiate")

	if !identity.VerifySignedPreKey(bundle.IdentityKey, bundle.SignedPreKey, bundle.Signature) {
		logger.Warn("prekey bundle failed signature verification")
		return Result{}, ErrInvalidBundle
	}

	ephPriv, ephPub, err := cryptoutil.GenerateX25519KeyPair()
	if err != nil {
		return Result{}, fmt.Errorf("x3dh: generate ephemeral key: %w", err)
	}

	dh1, err := cryptoutil.X25519(ephPriv, bundle.SignedPreKey)
	if err != nil {
		return Result{}, fmt.Errorf("x3dh: DH(E, SPK_B): %w", err)
	}

	ikm := dh1[:]
	if bundle.OneTimePreKey != nil {
		dh2, err := cryptoutil.X25519(ephPriv, *bundle.OneTimePreKey)
		if err != nil {
			return Result{}, fmt.Errorf("x3dh: DH(E, OPK_B): %w", err)
		}
		ikm = append(append([]byte{}, ikm...), dh2[:]...)
	}

	secret, err := cryptoutil.HKDF32([]byte(saltV1), ikm, []byte(infoV1))
	if err != nil {
		return Result{}, fmt.Errorf("x3dh: derive shared secret: %w", err)
	}

	logger.WithField("has_one_time_prekey", bundle.OneTimePreKey != nil).
		Debug("derived initiator shared secret")
	return Result{SharedSecret: secret, EphemeralPub: ephPub}, nil
}

// Respond runs the responder side of X3DH (spec.md §4.2 "Contract
// (responder)"): given the secret halves of the signed prekey and
// (optionally) the referenced one-time prekey, and the initiator's
// ephemeral public key, reproduce the same shared secret the initiator
// derived.
//
// Consuming the one-time prekey from the pool is the caller's
// responsibility (see internal/handler, which performs the five-step
// atomic session-establishment sequence from spec.md §4.5); Respond itself
// is a pure function of its inputs.
func Respond(signedPreKeySecret [cryptoutil.KeySize]byte, oneTimePreKeySecret *[cryptoutil.KeySize]byte, initiatorEphemeralPub [cryptoutil.KeySize]byte) ([cryptoutil.KeySize]byte, error) {
	dh1, err := cryptoutil.X25519(signedPreKeySecret, initiatorEphemeralPub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("x3dh: DH(SPK_B, E): %w", err)
	}

	ikm := dh1[:]
	if oneTimePreKeySecret != nil {
		dh2, err := cryptoutil.X25519(*oneTimePreKeySecret, initiatorEphemeralPub)
		if err != nil {
			return [32]byte{}, fmt.Errorf("x3dh: DH(OPK_B, E): %w", err)
		}
		ikm = append(append([]byte{}, ikm...), dh2[:]...)
	}

	return cryptoutil.HKDF32([]byte(saltV1), ikm, []byte(infoV1))
}
