package omemodr

import (
	"fmt"
)

// Address identifies one device of a peer.
type Address struct {
	Name     string
	DeviceID uint32
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Name, a.DeviceID)
}

// IdentityKeyStore holds the local identity and the pinned peer identities.
type IdentityKeyStore interface {
	// IdentityKeyPair returns the local identity.
	IdentityKeyPair() (IdentityKeyPair, error)

	// LocalRegistrationID returns the local registration id.
	LocalRegistrationID() (uint32, error)

	// SaveIdentity pins key as the identity of name.
	SaveIdentity(name string, key IdentityKey) error

	// IsTrustedIdentity decides whether key may be used for name.
	IsTrustedIdentity(name string, key IdentityKey) (bool, error)
}

// PreKeyStore holds one-time pre-keys. Loading a missing id returns ErrInvalidKeyID.
type PreKeyStore interface {
	LoadPreKey(id uint32) (PreKeyRecord, error)
	StorePreKey(id uint32, record PreKeyRecord) error
	ContainsPreKey(id uint32) (bool, error)
	RemovePreKey(id uint32) error
}

// SignedPreKeyStore holds signed pre-keys. Loading a missing id returns ErrInvalidKeyID.
type SignedPreKeyStore interface {
	LoadSignedPreKey(id uint32) (SignedPreKeyRecord, error)
	LoadSignedPreKeys() ([]SignedPreKeyRecord, error)
	StoreSignedPreKey(id uint32, record SignedPreKeyRecord) error
	ContainsSignedPreKey(id uint32) (bool, error)
	RemoveSignedPreKey(id uint32) error
}

// SessionStore persists session records. Records returned by LoadSession are
// owned by the caller until stored back.
type SessionStore interface {
	// LoadSession returns the record for addr, or a fresh one if there is none.
	LoadSession(addr Address) (*SessionRecord, error)

	StoreSession(addr Address, record *SessionRecord) error

	// ContainsSession reports whether an established session exists for addr.
	ContainsSession(addr Address) (bool, error)

	DeleteSession(addr Address) error
	DeleteAllSessions(name string) error

	// SubDeviceSessions lists the device ids with a session for name.
	SubDeviceSessions(name string) ([]uint32, error)
}

// ProtocolStore is everything SessionBuilder and SessionCipher need.
type ProtocolStore interface {
	IdentityKeyStore
	PreKeyStore
	SignedPreKeyStore
	SessionStore
}

// TrustOnFirstUse is the identity policy of the bundled stores: an unknown
// peer is trusted, a known peer only with the identity pinned for it.
func TrustOnFirstUse(pinned *IdentityKey, key IdentityKey) bool {
	return pinned == nil || pinned.Equal(key)
}

// hasEstablishedSession reports whether a stored record can encrypt.
func hasEstablishedSession(b []byte) (bool, error) {
	record, err := LoadSessionRecord(b)
	if err != nil {
		return false, err
	}
	return record.SessionState().HasSenderChain(), nil
}
