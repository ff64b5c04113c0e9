// Package message implements the wire envelopes exchanged by two ratchet
// sessions: WhisperMessage and PreKeyWhisperMessage for protocol versions 2
// and 3, and their OMEMO counterparts for version 4.
package message

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/stalker-loki/omemodr/ecc"
)

const (
	// MinSupportedVersion is the oldest protocol version that can be parsed.
	MinSupportedVersion = 2
	// CurrentVersion is the newest Whisper-framed protocol version.
	CurrentVersion = 3
	// OMEMOVersion uses OMEMO framing and Ed25519 identity keys.
	OMEMOVersion = 4

	// MacLength is the truncated MAC size for versions up to 3.
	MacLength = 8
	// OMEMOMacLength is the truncated MAC size for version 4.
	OMEMOMacLength = 16

	// noPreKeyID marks a missing one-time pre-key in legacy senders.
	noPreKeyID = 0xFFFFFF
)

var (
	// ErrInvalidMessage is returned for malformed or unauthentic envelopes.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrBadMAC is returned when the message authentication code does not match.
	ErrBadMAC = fmt.Errorf("%w: bad mac", ErrInvalidMessage)
	// ErrInvalidVersion is returned for unsupported protocol versions.
	ErrInvalidVersion = errors.New("invalid version")
)

// Type identifies the kind of ciphertext message.
type Type int

const (
	WhisperType Type = 2
	PreKeyType  Type = 3
)

// CiphertextMessage is anything Encrypt can produce.
type CiphertextMessage interface {
	Serialize() []byte
	Type() Type
}

// versionByte packs the message version in the high nibble and the minimum
// supported version in the low nibble.
func versionByte(version uint32) byte {
	return byte((version<<4 | MinSupportedVersion) & 0xFF)
}

func checkVersion(b byte, lowest, highest uint32) (uint32, error) {
	v := uint32(b >> 4)
	if v < lowest || v > highest {
		return 0, fmt.Errorf("%w: %d", ErrInvalidVersion, v)
	}
	return v, nil
}

// computeMAC authenticates body together with both identity keys. Version 2
// messages do not bind the identities.
func computeMAC(version uint32, macKey []byte, sender, receiver ecc.PublicKey, body []byte) []byte {
	h := hmac.New(sha256.New, macKey)
	if version >= 3 {
		h.Write(sender.Serialize())
		h.Write(receiver.Serialize())
	}
	h.Write(body)
	sum := h.Sum(nil)
	if version >= OMEMOVersion {
		return sum[:OMEMOMacLength]
	}
	return sum[:MacLength]
}

// field is one decoded protobuf field.
type field struct {
	varint uint64
	bytes  []byte
}

// fields decodes a flat protobuf message. Unknown fields are skipped and the
// last occurrence of a repeated field wins.
type fields map[protowire.Number]field

func parseFields(b []byte) (fields, error) {
	fs := make(fields)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, protowire.ParseError(m))
			}
			fs[num] = field{varint: v}
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, protowire.ParseError(m))
			}
			fs[num] = field{bytes: v}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return fs, nil
}

func (fs fields) has(num protowire.Number) bool {
	_, ok := fs[num]
	return ok
}

func (fs fields) u32(num protowire.Number) uint32 {
	return uint32(fs[num].varint)
}

func (fs fields) raw(num protowire.Number) []byte {
	return fs[num].bytes
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// encodeRatchetKey writes ratchet and base keys: OMEMO sends the raw
// Montgomery bytes, Whisper the type-prefixed form.
func encodeRatchetKey(version uint32, k ecc.PublicKey) []byte {
	if version >= OMEMOVersion {
		return append([]byte(nil), k.Key[:]...)
	}
	return k.Serialize()
}

func decodeRatchetKey(version uint32, b []byte) (ecc.PublicKey, error) {
	if version >= OMEMOVersion {
		if len(b) != 32 {
			return ecc.PublicKey{}, fmt.Errorf("%w: bad ratchet key length %d", ecc.ErrInvalidKey, len(b))
		}
		var u [32]byte
		copy(u[:], b)
		return ecc.NewDjbPublicKey(u), nil
	}
	k, err := ecc.DecodePoint(b)
	if err != nil {
		return k, err
	}
	if k.Type != ecc.DjbType {
		return k, fmt.Errorf("%w: ratchet key is not a curve25519 key", ecc.ErrInvalidKey)
	}
	return k, nil
}
