package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsonmartins/mepassa/internal/cryptoutil"
)

// magic identifies a mepassa identity file; version allows the on-disk
// layout to evolve without a deep decode error masquerading as corruption.
// Grounded on original_source/core/src/identity/storage.rs, which prefixes
// its identity blob with a magic+version header for the same reason
// (SPEC_FULL.md §4).
var magic = [4]byte{'M', 'P', 'I', 'D'}

const formatVersion = 1

// persist writes the vault to its data directory, replacing the previous
// file atomically (write to a temp file, then rename) so a crash mid-write
// never leaves a half-written identity.key behind.
func (v *Vault) persist() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.persistLocked()
}

func (v *Vault) persistLocked() error {
	buf, err := encodeVault(v)
	if err != nil {
		return err
	}
	path := filepath.Join(v.dataDir, fileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("identity: write temp identity file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("identity: rename identity file: %w", err)
	}
	return nil
}

func encodeVault(v *Vault) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(formatVersion)

	writeBytes(&buf, v.priv)
	writeBytes(&buf, v.pub)

	writeUint32(&buf, v.pool.signedPreKey.ID)
	writeBytes(&buf, v.pool.signedPreKey.Priv[:])
	writeBytes(&buf, v.pool.signedPreKey.Pub[:])
	writeBytesLenPrefixed(&buf, v.pool.signedPreKey.Signature)

	writeUint32(&buf, v.pool.nextID)
	writeUint32(&buf, uint32(len(v.pool.oneTime)))
	for id, otp := range v.pool.oneTime {
		writeUint32(&buf, id)
		writeBytes(&buf, otp.Priv[:])
		writeBytes(&buf, otp.Pub[:])
	}
	return buf.Bytes(), nil
}

func decodeVault(raw []byte, dataDir string) (*Vault, error) {
	r := bytes.NewReader(raw)

	var gotMagic [4]byte
	if _, err := r.Read(gotMagic[:]); err != nil || gotMagic != magic {
		return nil, fmt.Errorf("identity: %w: bad magic", ErrCorrupt)
	}
	versionByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("identity: %w: missing version", ErrCorrupt)
	}
	if versionByte != formatVersion {
		return nil, fmt.Errorf("identity: %w: unsupported format version %d", ErrCorrupt, versionByte)
	}

	priv := make([]byte, ed25519.PrivateKeySize)
	if _, err := r.Read(priv); err != nil {
		return nil, fmt.Errorf("identity: %w: truncated private key", ErrCorrupt)
	}
	pub := make([]byte, ed25519.PublicKeySize)
	if _, err := r.Read(pub); err != nil {
		return nil, fmt.Errorf("identity: %w: truncated public key", ErrCorrupt)
	}

	pool, err := newPreKeyPool()
	if err != nil {
		return nil, err
	}

	signedID, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: signed prekey id", ErrCorrupt)
	}
	var signedPriv, signedPub [cryptoutil.KeySize]byte
	if err := readFixed(r, signedPriv[:]); err != nil {
		return nil, fmt.Errorf("identity: %w: signed prekey priv", ErrCorrupt)
	}
	if err := readFixed(r, signedPub[:]); err != nil {
		return nil, fmt.Errorf("identity: %w: signed prekey pub", ErrCorrupt)
	}
	sig, err := readBytesLenPrefixed(r)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: signed prekey signature", ErrCorrupt)
	}
	pool.signedPreKey = SignedPreKey{ID: signedID, Priv: signedPriv, Pub: signedPub, Signature: sig}

	nextID, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: next id counter", ErrCorrupt)
	}
	pool.nextID = nextID

	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: prekey count", ErrCorrupt)
	}
	for i := uint32(0); i < count; i++ {
		id, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("identity: %w: one-time prekey id", ErrCorrupt)
		}
		var otpPriv, otpPub [cryptoutil.KeySize]byte
		if err := readFixed(r, otpPriv[:]); err != nil {
			return nil, fmt.Errorf("identity: %w: one-time prekey priv", ErrCorrupt)
		}
		if err := readFixed(r, otpPub[:]); err != nil {
			return nil, fmt.Errorf("identity: %w: one-time prekey pub", ErrCorrupt)
		}
		pool.oneTime[id] = &OneTimePreKey{ID: id, Priv: otpPriv, Pub: otpPub}
	}

	v := &Vault{
		pub:     ed25519.PublicKey(pub),
		priv:    ed25519.PrivateKey(priv),
		peer:    PeerIDFromPublicKey(ed25519.PublicKey(pub)),
		pool:    pool,
		dataDir: dataDir,
	}
	v.storageKey, err = deriveStorageKey(v.priv)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func writeBytes(buf *bytes.Buffer, b []byte) { buf.Write(b) }

func writeBytesLenPrefixed(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if err := readFixed(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readFixed(r *bytes.Reader, out []byte) error {
	n, err := r.Read(out)
	if err != nil {
		return err
	}
	if n != len(out) {
		return fmt.Errorf("short read: got %d want %d", n, len(out))
	}
	return nil
}

func readBytesLenPrefixed(r *bytes.Reader) ([]byte, error) {
	l, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, l)
	if err := readFixed(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
