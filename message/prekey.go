package message

import (
	"fmt"

	"github.com/stalker-loki/omemodr/ecc"
)

// PreKeyWhisperMessage carries the first messages of a session together with
// the key agreement data the responder needs to build its side.
type PreKeyWhisperMessage struct {
	Version        uint32
	RegistrationID uint32
	// PreKeyID is nil when no one-time pre-key was used.
	PreKeyID       *uint32
	SignedPreKeyID uint32
	BaseKey        ecc.PublicKey
	IdentityKey    ecc.PublicKey
	Message        *WhisperMessage

	serialized []byte
}

// PreKeyWhisperMessage and OMEMOKeyExchange field numbers.
const (
	preKeyOneTimeID      = 1
	preKeyBaseKey        = 2
	preKeyIdentityKey    = 3
	preKeyMessage        = 4
	preKeyRegistrationID = 5
	preKeySignedPreKeyID = 6

	kexPreKeyID       = 1
	kexSignedPreKeyID = 2
	kexIdentityKey    = 3
	kexBaseKey        = 4
	kexMessage        = 5
)

// NewPreKeyWhisperMessage wraps msg with the session setup data.
func NewPreKeyWhisperMessage(
	version, registrationID uint32,
	preKeyID *uint32,
	signedPreKeyID uint32,
	baseKey, identityKey ecc.PublicKey,
	msg *WhisperMessage,
) (*PreKeyWhisperMessage, error) {
	if version < CurrentVersion || version > OMEMOVersion {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	if msg == nil || msg.Version != version {
		return nil, fmt.Errorf("%w: inner message version mismatch", ErrInvalidMessage)
	}

	m := &PreKeyWhisperMessage{
		Version:        version,
		RegistrationID: registrationID,
		PreKeyID:       copyID(preKeyID),
		SignedPreKeyID: signedPreKeyID,
		BaseKey:        baseKey,
		IdentityKey:    identityKey,
		Message:        msg,
	}

	var pb []byte
	if version >= OMEMOVersion {
		if preKeyID != nil {
			pb = appendVarintField(pb, kexPreKeyID, *preKeyID)
		}
		pb = appendVarintField(pb, kexSignedPreKeyID, signedPreKeyID)
		pb = appendBytesField(pb, kexIdentityKey, identityKey.Serialize())
		pb = appendBytesField(pb, kexBaseKey, encodeRatchetKey(version, baseKey))
		pb = appendBytesField(pb, kexMessage, msg.Serialize())
		m.serialized = pb
		return m, nil
	}

	if preKeyID != nil {
		pb = appendVarintField(pb, preKeyOneTimeID, *preKeyID)
	}
	pb = appendBytesField(pb, preKeyBaseKey, baseKey.Serialize())
	pb = appendBytesField(pb, preKeyIdentityKey, identityKey.Serialize())
	pb = appendBytesField(pb, preKeyMessage, msg.Serialize())
	pb = appendVarintField(pb, preKeyRegistrationID, registrationID)
	pb = appendVarintField(pb, preKeySignedPreKeyID, signedPreKeyID)
	m.serialized = append([]byte{versionByte(version)}, pb...)
	return m, nil
}

// ParsePreKeyWhisperMessage decodes a version 3 PreKeyWhisperMessage.
func ParsePreKeyWhisperMessage(b []byte) (*PreKeyWhisperMessage, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	version, err := checkVersion(b[0], CurrentVersion, CurrentVersion)
	if err != nil {
		return nil, err
	}

	fs, err := parseFields(b[1:])
	if err != nil {
		return nil, err
	}
	if !fs.has(preKeySignedPreKeyID) || !fs.has(preKeyBaseKey) ||
		!fs.has(preKeyIdentityKey) || !fs.has(preKeyMessage) {
		return nil, fmt.Errorf("%w: incomplete pre-key message", ErrInvalidMessage)
	}

	baseKey, err := decodeRatchetKey(version, fs.raw(preKeyBaseKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	identityKey, err := ecc.DecodePoint(fs.raw(preKeyIdentityKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	msg, err := ParseWhisperMessage(fs.raw(preKeyMessage))
	if err != nil {
		return nil, err
	}
	if msg.Version != version {
		return nil, fmt.Errorf("%w: inner message version mismatch", ErrInvalidMessage)
	}

	m := &PreKeyWhisperMessage{
		Version:        version,
		RegistrationID: fs.u32(preKeyRegistrationID),
		SignedPreKeyID: fs.u32(preKeySignedPreKeyID),
		BaseKey:        baseKey,
		IdentityKey:    identityKey,
		Message:        msg,
		serialized:     append([]byte(nil), b...),
	}
	if fs.has(preKeyOneTimeID) && fs.u32(preKeyOneTimeID) != noPreKeyID {
		id := fs.u32(preKeyOneTimeID)
		m.PreKeyID = &id
	}
	return m, nil
}

// ParseOMEMOKeyExchange decodes a version 4 OMEMOKeyExchange.
func ParseOMEMOKeyExchange(b []byte) (*PreKeyWhisperMessage, error) {
	fs, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	if !fs.has(kexSignedPreKeyID) || !fs.has(kexIdentityKey) ||
		!fs.has(kexBaseKey) || !fs.has(kexMessage) {
		return nil, fmt.Errorf("%w: incomplete key exchange", ErrInvalidMessage)
	}

	identityKey, err := ecc.DecodePoint(fs.raw(kexIdentityKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if identityKey.Type != ecc.EdType {
		return nil, fmt.Errorf("%w: identity key must be ed25519", ErrInvalidMessage)
	}
	baseKey, err := decodeRatchetKey(OMEMOVersion, fs.raw(kexBaseKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	msg, err := ParseOMEMOMessage(fs.raw(kexMessage))
	if err != nil {
		return nil, err
	}

	m := &PreKeyWhisperMessage{
		Version:        OMEMOVersion,
		SignedPreKeyID: fs.u32(kexSignedPreKeyID),
		BaseKey:        baseKey,
		IdentityKey:    identityKey,
		Message:        msg,
		serialized:     append([]byte(nil), b...),
	}
	if fs.has(kexPreKeyID) {
		id := fs.u32(kexPreKeyID)
		m.PreKeyID = &id
	}
	return m, nil
}

// Serialize returns the wire bytes.
func (m *PreKeyWhisperMessage) Serialize() []byte {
	return m.serialized
}

// Type returns PreKeyType.
func (m *PreKeyWhisperMessage) Type() Type {
	return PreKeyType
}

func copyID(id *uint32) *uint32 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
