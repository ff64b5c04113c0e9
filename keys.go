package omemodr

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/stalker-loki/omemodr/ecc"
)

// maxPreKeyID bounds one-time pre-key ids to 24 bits, leaving 0xFFFFFF as
// the legacy "no pre-key" marker.
const maxPreKeyID = 0xFFFFFE

// IdentityKey is the long-term public key of a device. Version 3 sessions use
// Curve25519 identities, version 4 sessions Ed25519 ones.
type IdentityKey struct {
	PublicKey ecc.PublicKey
}

// NewIdentityKey wraps pub.
func NewIdentityKey(pub ecc.PublicKey) IdentityKey {
	return IdentityKey{PublicKey: pub}
}

func (k IdentityKey) Serialize() []byte { return k.PublicKey.Serialize() }

func (k IdentityKey) Equal(o IdentityKey) bool { return k.PublicKey.Equal(o.PublicKey) }

// IdentityKeyPair is the local device identity. It never leaves the device.
type IdentityKeyPair struct {
	Public  IdentityKey
	Private ecc.PrivateKey
}

// GenerateIdentityKeyPair creates a Curve25519 identity for version 3 sessions.
func GenerateIdentityKeyPair(rand io.Reader) (IdentityKeyPair, error) {
	kp, err := ecc.GenerateKeyPair(rand)
	if err != nil {
		return IdentityKeyPair{}, fmt.Errorf("failed to generate identity: %w", err)
	}
	return IdentityKeyPair{Public: NewIdentityKey(kp.PublicKey), Private: kp.PrivateKey}, nil
}

// GenerateOMEMOIdentityKeyPair creates an identity whose public half is the
// Ed25519 form of the Curve25519 private key, as version 4 requires.
func GenerateOMEMOIdentityKeyPair(rand io.Reader) (IdentityKeyPair, error) {
	kp, err := ecc.GenerateKeyPair(rand)
	if err != nil {
		return IdentityKeyPair{}, fmt.Errorf("failed to generate identity: %w", err)
	}
	ed, err := ecc.EdPublicKey(kp.PrivateKey)
	if err != nil {
		return IdentityKeyPair{}, fmt.Errorf("failed to generate identity: %w", err)
	}
	return IdentityKeyPair{Public: NewIdentityKey(ed), Private: kp.PrivateKey}, nil
}

// PreKeyRecord is a one-time pre-key. It is deleted after first use.
type PreKeyRecord struct {
	ID      uint32
	KeyPair ecc.KeyPair
}

// SignedPreKeyRecord is a medium-term pre-key signed by the identity key.
type SignedPreKeyRecord struct {
	ID        uint32
	KeyPair   ecc.KeyPair
	Signature [ecc.SignatureSize]byte
	Timestamp time.Time
}

// GenerateRegistrationID returns a random id in [1, 16380].
func GenerateRegistrationID(rand io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate registration id: %w", err)
	}
	return binary.BigEndian.Uint32(b[:])%16380 + 1, nil
}

// GeneratePreKeys returns count one-time pre-keys numbered start+1,
// start+2 and so on. Ids wrap around within the 24-bit range and are never 0.
func GeneratePreKeys(rand io.Reader, start, count uint32) ([]PreKeyRecord, error) {
	records := make([]PreKeyRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		kp, err := ecc.GenerateKeyPair(rand)
		if err != nil {
			return nil, fmt.Errorf("failed to generate pre-key: %w", err)
		}
		records = append(records, PreKeyRecord{
			ID:      (start+i)%maxPreKeyID + 1,
			KeyPair: kp,
		})
	}
	return records, nil
}

// GenerateSignedPreKey creates a signed pre-key stamped with now.
func GenerateSignedPreKey(rand io.Reader, identity IdentityKeyPair, id uint32, now time.Time) (SignedPreKeyRecord, error) {
	kp, err := ecc.GenerateKeyPair(rand)
	if err != nil {
		return SignedPreKeyRecord{}, fmt.Errorf("failed to generate signed pre-key: %w", err)
	}
	sig, err := ecc.CalculateSignature(rand, identity.Private, kp.PublicKey.Serialize())
	if err != nil {
		return SignedPreKeyRecord{}, fmt.Errorf("failed to sign pre-key: %w", err)
	}
	return SignedPreKeyRecord{
		ID:        id,
		KeyPair:   kp,
		Signature: sig,
		Timestamp: now,
	}, nil
}

// PreKeyBundle is what a device publishes so peers can start a session with
// it while it is offline.
type PreKeyBundle struct {
	RegistrationID uint32
	DeviceID       uint32

	// PreKey is nil when the bundle carries no one-time pre-key.
	PreKeyID uint32
	PreKey   *ecc.PublicKey

	SignedPreKeyID        uint32
	SignedPreKey          *ecc.PublicKey
	SignedPreKeySignature []byte

	IdentityKey IdentityKey
}

// verify fails closed unless a signed pre-key with a valid signature by the
// bundle's identity key is present.
func (b PreKeyBundle) verify() error {
	if b.SignedPreKey == nil {
		return fmt.Errorf("%w: no signed pre-key", ErrInvalidKey)
	}
	if !ecc.VerifySignature(b.IdentityKey.PublicKey, b.SignedPreKey.Serialize(), b.SignedPreKeySignature) {
		return fmt.Errorf("%w: invalid signature on signed pre-key", ErrInvalidKey)
	}
	return nil
}
