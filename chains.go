package omemodr

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/stalker-loki/omemodr/ecc"
	"github.com/stalker-loki/omemodr/kdf"
)

const (
	messageKeySeed = 0x01
	chainKeySeed   = 0x02

	messageKeysSize = 80
)

// Domain separation strings per protocol version.
func messageKeysInfo(version uint32) []byte {
	if version >= 4 {
		return []byte("OMEMO Message Key Material")
	}
	return []byte("WhisperMessageKeys")
}

func rootChainInfo(version uint32) []byte {
	if version >= 4 {
		return []byte("OMEMO Root Chain")
	}
	return []byte("WhisperRatchet")
}

func initialSecretsInfo(version uint32) []byte {
	if version >= 4 {
		return []byte("OMEMO Payload")
	}
	return []byte("WhisperText")
}

// MessageKeys encrypt and authenticate exactly one message.
type MessageKeys struct {
	CipherKey [32]byte
	MacKey    [32]byte
	IV        [16]byte
	Counter   uint32
}

// ChainKey is a symmetric ratchet position. It is a value: Next returns a
// new ChainKey and never changes the receiver.
type ChainKey struct {
	version uint32
	key     [32]byte
	index   uint32
}

// NewChainKey returns a chain key at the given index.
func NewChainKey(version uint32, key [32]byte, index uint32) ChainKey {
	return ChainKey{version: version, key: key, index: index}
}

func (c ChainKey) Key() [32]byte { return c.key }

func (c ChainKey) Index() uint32 { return c.index }

// Next returns the chain key one step further.
func (c ChainKey) Next() ChainKey {
	var next [32]byte
	copy(next[:], c.baseMaterial(chainKeySeed))
	return ChainKey{version: c.version, key: next, index: c.index + 1}
}

// MessageKeys derives the keys for the message at the current index.
func (c ChainKey) MessageKeys() MessageKeys {
	var (
		ikm = c.baseMaterial(messageKeySeed)
		okm = kdf.New(c.version).DeriveSecrets(ikm, nil, messageKeysInfo(c.version), messageKeysSize)
		mk  = MessageKeys{Counter: c.index}
	)
	copy(mk.CipherKey[:], okm[0:32])
	copy(mk.MacKey[:], okm[32:64])
	copy(mk.IV[:], okm[64:80])
	return mk
}

func (c ChainKey) baseMaterial(seed byte) []byte {
	h := hmac.New(sha256.New, c.key[:])
	h.Write([]byte{seed})
	return h.Sum(nil)
}

// RootKey seeds a new chain pair at every DH ratchet step.
type RootKey struct {
	version uint32
	key     [32]byte
}

// NewRootKey wraps raw root key bytes.
func NewRootKey(version uint32, key [32]byte) RootKey {
	return RootKey{version: version, key: key}
}

func (r RootKey) Key() [32]byte { return r.key }

// CreateChain mixes the DH output of our ratchet pair and their ratchet key
// into the root key, returning the next root key and a chain key at index 0.
func (r RootKey) CreateChain(theirRatchetKey ecc.PublicKey, ourRatchetKey ecc.KeyPair) (RootKey, ChainKey, error) {
	shared, err := ecc.CalculateAgreement(theirRatchetKey, ourRatchetKey.PrivateKey)
	if err != nil {
		return RootKey{}, ChainKey{}, err
	}

	okm := kdf.New(r.version).DeriveSecrets(shared[:], r.key[:], rootChainInfo(r.version), 64)

	var rk, ck [32]byte
	copy(rk[:], okm[:32])
	copy(ck[:], okm[32:])
	return NewRootKey(r.version, rk), NewChainKey(r.version, ck, 0), nil
}

// deriveInitialKeys turns the concatenated agreement secrets into the first
// root and chain keys of a session.
func deriveInitialKeys(version uint32, secrets []byte) (RootKey, ChainKey) {
	okm := kdf.New(version).DeriveSecrets(secrets, nil, initialSecretsInfo(version), 64)

	var rk, ck [32]byte
	copy(rk[:], okm[:32])
	copy(ck[:], okm[32:])
	return NewRootKey(version, rk), NewChainKey(version, ck, 0)
}
