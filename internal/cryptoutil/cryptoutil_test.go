package cryptoutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX25519KeyAgreementMatches(t *testing.T) {
	aPriv, aPub, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	bPriv, bPub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	secretA, err := X25519(aPriv, bPub)
	require.NoError(t, err)
	secretB, err := X25519(bPriv, aPub)
	require.NoError(t, err)

	assert.Equal(t, secretA, secretB)
}

func TestX25519RejectsZeroKey(t *testing.T) {
	_, pub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	_, err = X25519([32]byte{}, pub)
	assert.ErrorIs(t, err, ErrZeroKey)
}

func TestHKDF32DeterministicPerInfo(t *testing.T) {
	ikm := bytes.Repeat([]byte{0x42}, 32)

	k1, err := HKDF32([]byte("salt"), ikm, []byte("sending-chain"))
	require.NoError(t, err)
	k2, err := HKDF32([]byte("salt"), ikm, []byte("sending-chain"))
	require.NoError(t, err)
	k3, err := HKDF32([]byte("salt"), ikm, []byte("receiving-chain"))
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "same salt/ikm/info must be deterministic")
	assert.NotEqual(t, k1, k3, "different info labels must diverge")
}

func TestSealOpenAESGCMRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x07}, 32))

	plaintext := []byte("Hello, Bob")
	nonce, ciphertext, err := SealAESGCM(key, plaintext, nil)
	require.NoError(t, err)

	got, err := OpenAESGCM(key, nonce, ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSealAESGCMProducesDistinctCiphertextPerCall(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x09}, 32))

	plaintext := []byte("same plaintext twice")
	_, c1, err := SealAESGCM(key, plaintext, nil)
	require.NoError(t, err)
	_, c2, err := SealAESGCM(key, plaintext, nil)
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2, "random nonces must yield distinct ciphertexts")
}

func TestOpenAESGCMRejectsTamperedCiphertext(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x0a}, 32))

	nonce, ciphertext, err := SealAESGCM(key, []byte("authentic"), nil)
	require.NoError(t, err)
	ciphertext[0] ^= 0xff

	_, err = OpenAESGCM(key, nonce, ciphertext, nil)
	assert.ErrorIs(t, err, ErrAEADFailed)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	msg := []byte("signed-prekey-bytes")
	sig := Sign(priv, msg)
	assert.True(t, Verify(pub, msg, sig))

	sig[0] ^= 0xff
	assert.False(t, Verify(pub, msg, sig))
}
