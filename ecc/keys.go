package ecc

import (
	"bytes"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

// DjbType is the type byte prefixed to serialized Curve25519 public keys.
const DjbType KeyType = 0x05

// EdType marks an Ed25519 public key. It is never written on the wire.
const EdType KeyType = 0xED

// ErrInvalidKey is returned for malformed or unusable key material.
var ErrInvalidKey = errors.New("invalid key")

// KeyType tells which curve form a PublicKey holds.
type KeyType byte

// PublicKey is either a Curve25519 (Montgomery u) or an Ed25519 (compressed
// Edwards y) public key.
type PublicKey struct {
	Type KeyType
	Key  [32]byte
}

// PrivateKey is a clamped Curve25519 scalar.
type PrivateKey [32]byte

// KeyPair is a Curve25519 key pair.
type KeyPair struct {
	PublicKey  PublicKey
	PrivateKey PrivateKey
}

// NewDjbPublicKey wraps a raw 32-byte Montgomery u coordinate.
func NewDjbPublicKey(u [32]byte) PublicKey {
	return PublicKey{Type: DjbType, Key: u}
}

// NewEdPublicKey wraps a raw 32-byte compressed Edwards point.
func NewEdPublicKey(y [32]byte) PublicKey {
	return PublicKey{Type: EdType, Key: y}
}

// Serialize returns the wire form: 33 bytes with the type prefix for
// Curve25519 keys and the plain 32 bytes for Ed25519 keys.
func (k PublicKey) Serialize() []byte {
	switch k.Type {
	case DjbType:
		return append([]byte{byte(DjbType)}, k.Key[:]...)
	case EdType:
		return append([]byte(nil), k.Key[:]...)
	default:
		return nil
	}
}

// Equal reports whether both keys have the same type and bytes.
func (k PublicKey) Equal(o PublicKey) bool {
	return k.Type == o.Type && bytes.Equal(k.Key[:], o.Key[:])
}

// IsZero reports whether the key was never set.
func (k PublicKey) IsZero() bool {
	return k.Type == 0 && k.Key == [32]byte{}
}

// Montgomery returns the Curve25519 u coordinate of the key, converting
// Ed25519 keys through the birational map.
func (k PublicKey) Montgomery() ([32]byte, error) {
	var u [32]byte
	switch k.Type {
	case DjbType:
		return k.Key, nil
	case EdType:
		p, err := new(edwards25519.Point).SetBytes(k.Key[:])
		if err != nil {
			return u, fmt.Errorf("%w: %s", ErrInvalidKey, err)
		}
		copy(u[:], p.BytesMontgomery())
		return u, nil
	default:
		return u, fmt.Errorf("%w: unknown key type %#x", ErrInvalidKey, byte(k.Type))
	}
}

// DecodePoint parses a serialized public key. 33 bytes starting with the
// Curve25519 type byte decode to a Curve25519 key, 32 bytes to an Ed25519 key.
func DecodePoint(b []byte) (PublicKey, error) {
	var k PublicKey
	switch {
	case len(b) == 33 && KeyType(b[0]) == DjbType:
		k.Type = DjbType
		copy(k.Key[:], b[1:])
	case len(b) == 32:
		k.Type = EdType
		copy(k.Key[:], b)
	case len(b) == 33:
		return k, fmt.Errorf("%w: bad key type %#x", ErrInvalidKey, b[0])
	default:
		return k, fmt.Errorf("%w: bad key length %d", ErrInvalidKey, len(b))
	}
	return k, nil
}
