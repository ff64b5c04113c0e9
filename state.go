package omemodr

import (
	"github.com/stalker-loki/omemodr/ecc"
)

const (
	// maxReceiverChains is how many peer ratchet keys stay decryptable.
	maxReceiverChains = 5

	// maxMessageKeys bounds the skipped keys cached per receiver chain.
	maxMessageKeys = 2000
)

type senderChain struct {
	ratchetKey ecc.KeyPair
	chainKey   ChainKey
}

type receiverChain struct {
	ratchetKey  ecc.PublicKey
	chainKey    ChainKey
	messageKeys []MessageKeys
}

// pendingPreKey marks an initial message the peer has not answered yet.
type pendingPreKey struct {
	preKeyID       *uint32
	signedPreKeyID uint32
	baseKey        ecc.PublicKey
}

// SessionState is the cryptographic context of one session with one peer
// device. Operations on it are NOT THREAD-SAFE. Decryption works on a Clone
// and only replaces the stored state on success.
type SessionState struct {
	version uint32

	localIdentity  IdentityKey
	remoteIdentity IdentityKey

	rootKey         RootKey
	previousCounter uint32

	sender    *senderChain
	receivers []receiverChain

	pending *pendingPreKey

	// aliceBaseKey is the serialized base key of the session initiator.
	aliceBaseKey []byte

	localRegistrationID  uint32
	remoteRegistrationID uint32
}

// Clone returns a deep copy.
func (s *SessionState) Clone() *SessionState {
	sc := *s
	if s.sender != nil {
		sender := *s.sender
		sc.sender = &sender
	}
	if s.receivers != nil {
		sc.receivers = make([]receiverChain, len(s.receivers))
		for i, r := range s.receivers {
			r.messageKeys = append([]MessageKeys(nil), r.messageKeys...)
			sc.receivers[i] = r
		}
	}
	if s.pending != nil {
		pending := *s.pending
		pending.preKeyID = copyID(s.pending.preKeyID)
		sc.pending = &pending
	}
	sc.aliceBaseKey = append([]byte(nil), s.aliceBaseKey...)
	return &sc
}

func (s *SessionState) Version() uint32 { return s.version }

func (s *SessionState) SetVersion(v uint32) { s.version = v }

func (s *SessionState) LocalIdentityKey() IdentityKey { return s.localIdentity }

func (s *SessionState) SetLocalIdentityKey(k IdentityKey) { s.localIdentity = k }

func (s *SessionState) RemoteIdentityKey() IdentityKey { return s.remoteIdentity }

func (s *SessionState) SetRemoteIdentityKey(k IdentityKey) { s.remoteIdentity = k }

func (s *SessionState) RootKey() RootKey { return s.rootKey }

func (s *SessionState) SetRootKey(rk RootKey) { s.rootKey = rk }

func (s *SessionState) PreviousCounter() uint32 { return s.previousCounter }

func (s *SessionState) SetPreviousCounter(n uint32) { s.previousCounter = n }

func (s *SessionState) AliceBaseKey() []byte { return s.aliceBaseKey }

func (s *SessionState) SetAliceBaseKey(k []byte) { s.aliceBaseKey = append([]byte(nil), k...) }

func (s *SessionState) LocalRegistrationID() uint32 { return s.localRegistrationID }

func (s *SessionState) SetLocalRegistrationID(id uint32) { s.localRegistrationID = id }

func (s *SessionState) RemoteRegistrationID() uint32 { return s.remoteRegistrationID }

func (s *SessionState) SetRemoteRegistrationID(id uint32) { s.remoteRegistrationID = id }

// HasSenderChain reports whether the state can encrypt.
func (s *SessionState) HasSenderChain() bool {
	return s.sender != nil
}

// SenderRatchetKey returns our current ratchet key pair.
func (s *SessionState) SenderRatchetKey() ecc.KeyPair {
	if s.sender == nil {
		return ecc.KeyPair{}
	}
	return s.sender.ratchetKey
}

func (s *SessionState) SenderChainKey() ChainKey {
	if s.sender == nil {
		return ChainKey{}
	}
	return s.sender.chainKey
}

// SetSenderChain replaces our ratchet key pair and sending chain.
func (s *SessionState) SetSenderChain(ratchetKey ecc.KeyPair, ck ChainKey) {
	s.sender = &senderChain{ratchetKey: ratchetKey, chainKey: ck}
}

func (s *SessionState) SetSenderChainKey(ck ChainKey) {
	if s.sender == nil {
		return
	}
	s.sender.chainKey = ck
}

func (s *SessionState) receiverChain(ratchetKey ecc.PublicKey) *receiverChain {
	for i := range s.receivers {
		if s.receivers[i].ratchetKey.Equal(ratchetKey) {
			return &s.receivers[i]
		}
	}
	return nil
}

func (s *SessionState) HasReceiverChain(ratchetKey ecc.PublicKey) bool {
	return s.receiverChain(ratchetKey) != nil
}

// ReceiverChainKey returns the chain key for the peer ratchet key.
func (s *SessionState) ReceiverChainKey(ratchetKey ecc.PublicKey) (ChainKey, bool) {
	r := s.receiverChain(ratchetKey)
	if r == nil {
		return ChainKey{}, false
	}
	return r.chainKey, true
}

// AddReceiverChain appends a chain and evicts the oldest beyond the limit.
func (s *SessionState) AddReceiverChain(ratchetKey ecc.PublicKey, ck ChainKey) {
	s.receivers = append(s.receivers, receiverChain{ratchetKey: ratchetKey, chainKey: ck})
	if len(s.receivers) > maxReceiverChains {
		s.receivers = append([]receiverChain(nil), s.receivers[len(s.receivers)-maxReceiverChains:]...)
	}
}

func (s *SessionState) SetReceiverChainKey(ratchetKey ecc.PublicKey, ck ChainKey) {
	if r := s.receiverChain(ratchetKey); r != nil {
		r.chainKey = ck
	}
}

// ReceiverChainCount returns how many receiver chains are kept.
func (s *SessionState) ReceiverChainCount() int {
	return len(s.receivers)
}

// HasMessageKeys reports whether skipped keys for counter are cached.
func (s *SessionState) HasMessageKeys(ratchetKey ecc.PublicKey, counter uint32) bool {
	r := s.receiverChain(ratchetKey)
	if r == nil {
		return false
	}
	for _, mk := range r.messageKeys {
		if mk.Counter == counter {
			return true
		}
	}
	return false
}

// RemoveMessageKeys takes the cached keys for counter out of the chain.
func (s *SessionState) RemoveMessageKeys(ratchetKey ecc.PublicKey, counter uint32) (MessageKeys, bool) {
	r := s.receiverChain(ratchetKey)
	if r == nil {
		return MessageKeys{}, false
	}
	for i, mk := range r.messageKeys {
		if mk.Counter == counter {
			r.messageKeys = append(r.messageKeys[:i:i], r.messageKeys[i+1:]...)
			return mk, true
		}
	}
	return MessageKeys{}, false
}

// SetMessageKeys caches skipped keys, dropping the oldest beyond the limit.
func (s *SessionState) SetMessageKeys(ratchetKey ecc.PublicKey, mk MessageKeys) {
	r := s.receiverChain(ratchetKey)
	if r == nil {
		return
	}
	r.messageKeys = append(r.messageKeys, mk)
	if len(r.messageKeys) > maxMessageKeys {
		r.messageKeys = append([]MessageKeys(nil), r.messageKeys[len(r.messageKeys)-maxMessageKeys:]...)
	}
}

// SetUnacknowledgedPreKeyMessage records the setup data that must accompany
// every outgoing message until the peer replies.
func (s *SessionState) SetUnacknowledgedPreKeyMessage(preKeyID *uint32, signedPreKeyID uint32, baseKey ecc.PublicKey) {
	s.pending = &pendingPreKey{
		preKeyID:       copyID(preKeyID),
		signedPreKeyID: signedPreKeyID,
		baseKey:        baseKey,
	}
}

func (s *SessionState) HasUnacknowledgedPreKeyMessage() bool {
	return s.pending != nil
}

// UnacknowledgedPreKeyMessage returns the pending one-time pre-key id (nil if
// none was used), signed pre-key id and base key.
func (s *SessionState) UnacknowledgedPreKeyMessage() (*uint32, uint32, ecc.PublicKey) {
	if s.pending == nil {
		return nil, 0, ecc.PublicKey{}
	}
	return copyID(s.pending.preKeyID), s.pending.signedPreKeyID, s.pending.baseKey
}

func (s *SessionState) ClearUnacknowledgedPreKeyMessage() {
	s.pending = nil
}

func copyID(id *uint32) *uint32 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
