package signaling

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	env := Envelope{CallID: "call-1", Type: CallOffer, SDP: "v=0..."}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, env))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestEncodeUsesFourByteBigEndianLengthPrefix(t *testing.T) {
	env := Envelope{CallID: "c", Type: CallHangup}
	buf, err := Encode(env)
	require.NoError(t, err)

	bodyLen := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	assert.Equal(t, len(buf)-4, bodyLen)
}

func TestReadRejectsOversizedLengthPrefix(t *testing.T) {
	buf := []byte{0x7F, 0xFF, 0xFF, 0xFF}
	_, err := Read(bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrEnvelopeTooLarge)
}

func TestDecodeReturnsRemainingBytes(t *testing.T) {
	env1, err := Encode(Envelope{CallID: "a", Type: CallAccept})
	require.NoError(t, err)
	env2, err := Encode(Envelope{CallID: "b", Type: CallHangup})
	require.NoError(t, err)

	data := append(env1, env2...)

	first, rest, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "a", first.CallID)

	second, rest2, err := Decode(rest)
	require.NoError(t, err)
	assert.Equal(t, "b", second.CallID)
	assert.Empty(t, rest2)
}

func TestIceCandidateFields(t *testing.T) {
	idx := 0
	env := Envelope{CallID: "call-1", Type: IceCandidate, Candidate: "candidate:1 1 UDP...", SDPMid: "audio", SDPMLineIndex: &idx}

	buf, err := Encode(env)
	require.NoError(t, err)

	got, err := Read(bytes.NewReader(buf))
	require.NoError(t, err)
	require.NotNil(t, got.SDPMLineIndex)
	assert.Equal(t, 0, *got.SDPMLineIndex)
	assert.Equal(t, "audio", got.SDPMid)
}
