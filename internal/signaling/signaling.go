// Package signaling implements the audio/video control-plane passthrough
// envelope spec.md §6 describes: a JSON payload framed with a 4-byte
// big-endian length prefix on the wire. The engine itself never
// interprets call state beyond routing the envelope to the A/V
// collaborator (spec.md's Non-goals exclude real-time audio/video).
package signaling

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Type enumerates the signaling envelope's call-control variants.
type Type string

const (
	CallOffer    Type = "CallOffer"
	CallAccept   Type = "CallAccept"
	CallAnswer   Type = "CallAnswer"
	CallReject   Type = "CallReject"
	CallHangup   Type = "CallHangup"
	IceCandidate Type = "IceCandidate"
)

// maxEnvelopeSize bounds a single framed read to guard against a corrupt
// or hostile length prefix exhausting memory.
const maxEnvelopeSize = 1 << 20 // 1 MiB

// ErrEnvelopeTooLarge is returned by Read when the length prefix exceeds
// maxEnvelopeSize.
var ErrEnvelopeTooLarge = errors.New("signaling: envelope exceeds maximum size")

// Envelope is the type-specific signaling payload (spec.md §6): "{call_id,
// type ∈ {CallOffer, CallAccept, CallAnswer, CallReject, CallHangup,
// IceCandidate}, type-specific fields}".
type Envelope struct {
	CallID string `json:"call_id"`
	Type   Type   `json:"type"`

	// Offer/Answer (CallOffer, CallAnswer): SDP payload.
	SDP string `json:"sdp,omitempty"`

	// IceCandidate fields.
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *int   `json:"sdp_mline_index,omitempty"`

	// CallReject: optional human-readable reason.
	Reason string `json:"reason,omitempty"`
}

// Encode serializes env as length-prefixed JSON for the wire.
func Encode(env Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("signaling: marshal envelope: %w", err)
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	return buf, nil
}

// Write frames and writes a single envelope to w.
func Write(w io.Writer, env Envelope) error {
	buf, err := Encode(env)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Read reads one length-prefixed envelope from r.
func Read(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, fmt.Errorf("signaling: read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxEnvelopeSize {
		return Envelope{}, ErrEnvelopeTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("signaling: read envelope body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("signaling: unmarshal envelope: %w", err)
	}
	return env, nil
}

// Decode parses a single length-prefixed envelope from a complete byte
// slice, returning the remaining unconsumed bytes.
func Decode(data []byte) (Envelope, []byte, error) {
	env, err := Read(bytes.NewReader(data))
	if err != nil {
		return Envelope{}, nil, err
	}
	consumed := 4 + binary.BigEndian.Uint32(data[:4])
	return env, data[consumed:], nil
}
