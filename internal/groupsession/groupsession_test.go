package groupsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestThreeMemberGroupRoundTrip reproduces spec.md §8 scenario S5: Alice,
// Bob and Carol each generate a SenderKey and exchange seeds, then Carol's
// broadcast is recoverable by the other two, and all three agree on
// member_count=3.
func TestThreeMemberGroupRoundTrip(t *testing.T) {
	alice, err := NewSession("G1", "alice")
	require.NoError(t, err)
	bob, err := NewSession("G1", "bob")
	require.NoError(t, err)
	carol, err := NewSession("G1", "carol")
	require.NoError(t, err)

	// Every member learns every other member's seed via (simulated)
	// pairwise sessions.
	alice.AddMemberKey("bob", bob.MyKey.Seed())
	alice.AddMemberKey("carol", carol.MyKey.Seed())
	bob.AddMemberKey("alice", alice.MyKey.Seed())
	bob.AddMemberKey("carol", carol.MyKey.Seed())
	carol.AddMemberKey("alice", alice.MyKey.Seed())
	carol.AddMemberKey("bob", bob.MyKey.Seed())

	env, err := carol.EncryptOutgoing([]byte("Hi everyone!"))
	require.NoError(t, err)

	gotAlice, err := alice.DecryptIncoming(env)
	require.NoError(t, err)
	assert.Equal(t, "Hi everyone!", string(gotAlice))

	gotBob, err := bob.DecryptIncoming(env)
	require.NoError(t, err)
	assert.Equal(t, "Hi everyone!", string(gotBob))

	assert.Equal(t, 3, alice.MemberCount())
	assert.Equal(t, 3, bob.MemberCount())
	assert.Equal(t, 3, carol.MemberCount())
}

func TestDecryptIncomingUnknownSender(t *testing.T) {
	alice, err := NewSession("G1", "alice")
	require.NoError(t, err)

	_, err = alice.DecryptIncoming(Envelope{SenderID: "mallory"})
	assert.ErrorIs(t, err, ErrUnknownSender)
}

func TestDecryptIncomingReplayAndOutOfOrder(t *testing.T) {
	bob, err := NewSession("G1", "bob")
	require.NoError(t, err)
	carol, err := NewSession("G1", "carol")
	require.NoError(t, err)
	bob.AddMemberKey("carol", carol.MyKey.Seed())

	env0, err := carol.EncryptOutgoing([]byte("first"))
	require.NoError(t, err)
	env1, err := carol.EncryptOutgoing([]byte("second"))
	require.NoError(t, err)

	_, err = bob.DecryptIncoming(env1)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	_, err = bob.DecryptIncoming(env0)
	require.NoError(t, err)

	_, err = bob.DecryptIncoming(env0)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestRemoveMemberKeyEvictsReplica(t *testing.T) {
	alice, err := NewSession("G1", "alice")
	require.NoError(t, err)
	bob, err := NewSession("G1", "bob")
	require.NoError(t, err)
	alice.AddMemberKey("bob", bob.MyKey.Seed())

	alice.RemoveMemberKey("bob")

	env, err := bob.EncryptOutgoing([]byte("after removal"))
	require.NoError(t, err)
	_, err = alice.DecryptIncoming(env)
	assert.ErrorIs(t, err, ErrUnknownSender)
}
