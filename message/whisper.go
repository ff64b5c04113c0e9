package message

import (
	"crypto/hmac"
	"fmt"

	"github.com/stalker-loki/omemodr/ecc"
)

// WhisperMessage is a single ratchet message. Versions 2 and 3 are framed as
// version byte, protobuf body and an 8-byte MAC. Version 4 is an
// OMEMOAuthenticatedMessage wrapping an OMEMOMessage with a 16-byte MAC.
type WhisperMessage struct {
	Version         uint32
	RatchetKey      ecc.PublicKey
	Counter         uint32
	PreviousCounter uint32
	Ciphertext      []byte

	// body is the MAC-covered part, mac the truncated tag.
	body       []byte
	mac        []byte
	serialized []byte
}

// Whisper and OMEMOMessage field numbers.
const (
	whisperRatchetKey      = 1
	whisperCounter         = 2
	whisperPreviousCounter = 3
	whisperCiphertext      = 4

	authMAC     = 1
	authMessage = 2
)

// NewWhisperMessage builds and authenticates a message. sender and receiver
// are the identity public keys bound into the MAC.
func NewWhisperMessage(
	version uint32,
	macKey []byte,
	ratchetKey ecc.PublicKey,
	counter, previousCounter uint32,
	ciphertext []byte,
	sender, receiver ecc.PublicKey,
) (*WhisperMessage, error) {
	if version < MinSupportedVersion || version > OMEMOVersion {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}

	var pb []byte
	pb = appendBytesField(pb, whisperRatchetKey, encodeRatchetKey(version, ratchetKey))
	pb = appendVarintField(pb, whisperCounter, counter)
	pb = appendVarintField(pb, whisperPreviousCounter, previousCounter)
	pb = appendBytesField(pb, whisperCiphertext, ciphertext)

	m := &WhisperMessage{
		Version:         version,
		RatchetKey:      ratchetKey,
		Counter:         counter,
		PreviousCounter: previousCounter,
		Ciphertext:      append([]byte(nil), ciphertext...),
	}

	if version >= OMEMOVersion {
		m.body = pb
		m.mac = computeMAC(version, macKey, sender, receiver, m.body)

		var out []byte
		out = appendBytesField(out, authMAC, m.mac)
		out = appendBytesField(out, authMessage, m.body)
		m.serialized = out
		return m, nil
	}

	m.body = append([]byte{versionByte(version)}, pb...)
	m.mac = computeMAC(version, macKey, sender, receiver, m.body)
	m.serialized = append(append([]byte(nil), m.body...), m.mac...)
	return m, nil
}

// ParseWhisperMessage decodes a version 2 or 3 message.
func ParseWhisperMessage(b []byte) (*WhisperMessage, error) {
	if len(b) <= 1+MacLength {
		return nil, fmt.Errorf("%w: message too short", ErrInvalidMessage)
	}
	version, err := checkVersion(b[0], MinSupportedVersion, CurrentVersion)
	if err != nil {
		return nil, err
	}

	var (
		body = b[:len(b)-MacLength]
		mac  = b[len(b)-MacLength:]
	)
	m, err := parseWhisperBody(version, body[1:])
	if err != nil {
		return nil, err
	}
	m.body = append([]byte(nil), body...)
	m.mac = append([]byte(nil), mac...)
	m.serialized = append([]byte(nil), b...)
	return m, nil
}

// ParseOMEMOMessage decodes a version 4 OMEMOAuthenticatedMessage.
func ParseOMEMOMessage(b []byte) (*WhisperMessage, error) {
	fs, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	if !fs.has(authMAC) || !fs.has(authMessage) {
		return nil, fmt.Errorf("%w: incomplete authenticated message", ErrInvalidMessage)
	}
	if len(fs.raw(authMAC)) != OMEMOMacLength {
		return nil, fmt.Errorf("%w: bad mac length", ErrInvalidMessage)
	}

	m, err := parseWhisperBody(OMEMOVersion, fs.raw(authMessage))
	if err != nil {
		return nil, err
	}
	m.body = append([]byte(nil), fs.raw(authMessage)...)
	m.mac = append([]byte(nil), fs.raw(authMAC)...)
	m.serialized = append([]byte(nil), b...)
	return m, nil
}

func parseWhisperBody(version uint32, pb []byte) (*WhisperMessage, error) {
	fs, err := parseFields(pb)
	if err != nil {
		return nil, err
	}
	if !fs.has(whisperRatchetKey) || !fs.has(whisperCounter) || !fs.has(whisperCiphertext) {
		return nil, fmt.Errorf("%w: incomplete message", ErrInvalidMessage)
	}

	ratchetKey, err := decodeRatchetKey(version, fs.raw(whisperRatchetKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	return &WhisperMessage{
		Version:         version,
		RatchetKey:      ratchetKey,
		Counter:         fs.u32(whisperCounter),
		PreviousCounter: fs.u32(whisperPreviousCounter),
		Ciphertext:      append([]byte(nil), fs.raw(whisperCiphertext)...),
	}, nil
}

// VerifyMAC checks the tag against the given identity keys and MAC key.
func (m *WhisperMessage) VerifyMAC(sender, receiver ecc.PublicKey, macKey []byte) error {
	expected := computeMAC(m.Version, macKey, sender, receiver, m.body)
	if !hmac.Equal(expected, m.mac) {
		return ErrBadMAC
	}
	return nil
}

// Serialize returns the wire bytes.
func (m *WhisperMessage) Serialize() []byte {
	return m.serialized
}

// Type returns WhisperType.
func (m *WhisperMessage) Type() Type {
	return WhisperType
}
