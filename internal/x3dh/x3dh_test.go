package x3dh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/internal/identity"
)

// TestFirstMessageScenario reproduces spec.md §8 scenario S1: Bob publishes
// a bundle, Alice initiates, Bob responds, and both sides must land on the
// identical shared secret.
func TestFirstMessageScenario(t *testing.T) {
	bob, err := identity.LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	before := bob.OneTimePreKeyCount()

	bundle, err := bob.PreKeyBundle()
	require.NoError(t, err)
	require.NotNil(t, bundle.OneTimePreKeyID)

	result, err := Initiate(bundle)
	require.NoError(t, err)

	otpSecret, ok := bob.PreKeySecretByID(*bundle.OneTimePreKeyID)
	require.True(t, ok)
	spkSecret := bob.SignedPreKeySecret()

	secretB, err := Respond(spkSecret, &otpSecret, result.EphemeralPub)
	require.NoError(t, err)

	assert.Equal(t, result.SharedSecret, secretB)

	after := bob.OneTimePreKeyCount()
	assert.Equal(t, before-1, after, "pool size decreases by exactly 1")
}

func TestInitiateRejectsBadSignature(t *testing.T) {
	bob, err := identity.LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	bundle, err := bob.PreKeyBundle()
	require.NoError(t, err)
	bundle.Signature[0] ^= 0xff

	_, err = Initiate(bundle)
	assert.ErrorIs(t, err, ErrInvalidBundle)
}

func TestInitiateWithoutOneTimePreKeyStillDerivesSecret(t *testing.T) {
	bob, err := identity.LoadOrCreate(t.TempDir())
	require.NoError(t, err)
	for {
		b, err := bob.PreKeyBundle()
		require.NoError(t, err)
		if b.OneTimePreKey == nil {
			result, err := Initiate(b)
			require.NoError(t, err)

			secretB, err := Respond(bob.SignedPreKeySecret(), nil, result.EphemeralPub)
			require.NoError(t, err)
			assert.Equal(t, result.SharedSecret, secretB)
			return
		}
	}
}
