package omemodr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stalker-loki/omemodr/ecc"
)

type preKeySnapshot struct {
	ID        uint32 `json:"id"`
	Private   string `json:"private"`
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type identitySnapshot struct {
	Public  string `json:"public"`
	Private string `json:"private"`
}

func keyPairFromSnapshot(private string) (ecc.KeyPair, error) {
	b, err := decodeFixed(private, 32)
	if err != nil {
		return ecc.KeyPair{}, err
	}
	var priv ecc.PrivateKey
	copy(priv[:], b)
	return ecc.KeyPairFromPrivate(priv)
}

// Serialize encodes the record for a PreKeyStore.
func (r PreKeyRecord) Serialize() ([]byte, error) {
	return json.Marshal(preKeySnapshot{ID: r.ID, Private: encode(r.KeyPair.PrivateKey[:])})
}

// LoadPreKeyRecord decodes a record produced by PreKeyRecord.Serialize.
func LoadPreKeyRecord(b []byte) (PreKeyRecord, error) {
	var snap preKeySnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return PreKeyRecord{}, fmt.Errorf("omemodr: decode pre-key: %w", err)
	}
	kp, err := keyPairFromSnapshot(snap.Private)
	if err != nil {
		return PreKeyRecord{}, fmt.Errorf("omemodr: decode pre-key: %w", err)
	}
	return PreKeyRecord{ID: snap.ID, KeyPair: kp}, nil
}

// Serialize encodes the record for a SignedPreKeyStore.
func (r SignedPreKeyRecord) Serialize() ([]byte, error) {
	return json.Marshal(preKeySnapshot{
		ID:        r.ID,
		Private:   encode(r.KeyPair.PrivateKey[:]),
		Signature: encode(r.Signature[:]),
		Timestamp: r.Timestamp.UnixMilli(),
	})
}

// LoadSignedPreKeyRecord decodes a record produced by SignedPreKeyRecord.Serialize.
func LoadSignedPreKeyRecord(b []byte) (SignedPreKeyRecord, error) {
	var snap preKeySnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return SignedPreKeyRecord{}, fmt.Errorf("omemodr: decode signed pre-key: %w", err)
	}
	kp, err := keyPairFromSnapshot(snap.Private)
	if err != nil {
		return SignedPreKeyRecord{}, fmt.Errorf("omemodr: decode signed pre-key: %w", err)
	}
	sig, err := decodeFixed(snap.Signature, ecc.SignatureSize)
	if err != nil {
		return SignedPreKeyRecord{}, fmt.Errorf("omemodr: decode signed pre-key signature: %w", err)
	}
	r := SignedPreKeyRecord{
		ID:        snap.ID,
		KeyPair:   kp,
		Timestamp: time.UnixMilli(snap.Timestamp),
	}
	copy(r.Signature[:], sig)
	return r, nil
}

// Serialize encodes the identity for an IdentityKeyStore.
func (p IdentityKeyPair) Serialize() ([]byte, error) {
	return json.Marshal(identitySnapshot{
		Public:  encode(p.Public.Serialize()),
		Private: encode(p.Private[:]),
	})
}

// LoadIdentityKeyPair decodes an identity produced by IdentityKeyPair.Serialize.
func LoadIdentityKeyPair(b []byte) (IdentityKeyPair, error) {
	var snap identitySnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return IdentityKeyPair{}, fmt.Errorf("omemodr: decode identity: %w", err)
	}
	pub, err := decodeKey(snap.Public)
	if err != nil {
		return IdentityKeyPair{}, fmt.Errorf("omemodr: decode identity public key: %w", err)
	}
	priv, err := decodeFixed(snap.Private, 32)
	if err != nil {
		return IdentityKeyPair{}, fmt.Errorf("omemodr: decode identity private key: %w", err)
	}
	p := IdentityKeyPair{Public: NewIdentityKey(pub)}
	copy(p.Private[:], priv)
	return p, nil
}

// LoadIdentityKey decodes a serialized identity public key.
func LoadIdentityKey(b []byte) (IdentityKey, error) {
	pub, err := ecc.DecodePoint(b)
	if err != nil {
		return IdentityKey{}, err
	}
	return NewIdentityKey(pub), nil
}

// Fingerprint is a printable form of the identity key.
func (k IdentityKey) Fingerprint() string {
	return base64.RawStdEncoding.EncodeToString(k.Serialize())
}
