package omemodr

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stalker-loki/omemodr/ecc"
)

type recordSnapshot struct {
	Current  *stateSnapshot   `json:"current"`
	Previous []*stateSnapshot `json:"previous,omitempty"`
}

type stateSnapshot struct {
	Version              uint32                  `json:"version"`
	LocalIdentity        string                  `json:"localIdentity,omitempty"`
	RemoteIdentity       string                  `json:"remoteIdentity,omitempty"`
	RootKey              string                  `json:"rootKey"`
	PreviousCounter      uint32                  `json:"previousCounter"`
	Sender               *senderChainSnapshot    `json:"sender,omitempty"`
	Receivers            []receiverChainSnapshot `json:"receivers,omitempty"`
	Pending              *pendingSnapshot        `json:"pending,omitempty"`
	AliceBaseKey         string                  `json:"aliceBaseKey,omitempty"`
	LocalRegistrationID  uint32                  `json:"localRegistrationId"`
	RemoteRegistrationID uint32                  `json:"remoteRegistrationId"`
}

type chainKeySnapshot struct {
	Key   string `json:"key"`
	Index uint32 `json:"index"`
}

type senderChainSnapshot struct {
	RatchetPrivate string           `json:"ratchetPrivate"`
	ChainKey       chainKeySnapshot `json:"chainKey"`
}

type receiverChainSnapshot struct {
	RatchetKey  string                `json:"ratchetKey"`
	ChainKey    chainKeySnapshot      `json:"chainKey"`
	MessageKeys []messageKeysSnapshot `json:"messageKeys,omitempty"`
}

type messageKeysSnapshot struct {
	CipherKey string `json:"cipherKey"`
	MacKey    string `json:"macKey"`
	IV        string `json:"iv"`
	Counter   uint32 `json:"counter"`
}

type pendingSnapshot struct {
	PreKeyID       *uint32 `json:"preKeyId,omitempty"`
	SignedPreKeyID uint32  `json:"signedPreKeyId"`
	BaseKey        string  `json:"baseKey"`
}

// Serialize encodes the record for a SessionStore.
func (r *SessionRecord) Serialize() ([]byte, error) {
	snap := recordSnapshot{Current: exportState(r.current)}
	for _, s := range r.previous {
		snap.Previous = append(snap.Previous, exportState(s))
	}
	return json.Marshal(snap)
}

// LoadSessionRecord decodes a record produced by Serialize. The result is
// never fresh.
func LoadSessionRecord(b []byte) (*SessionRecord, error) {
	var snap recordSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("omemodr: decode session record: %w", err)
	}
	if snap.Current == nil {
		return nil, errors.New("omemodr: session record without current state")
	}

	current, err := importState(snap.Current)
	if err != nil {
		return nil, err
	}
	r := &SessionRecord{current: current}
	for _, p := range snap.Previous {
		s, err := importState(p)
		if err != nil {
			return nil, err
		}
		r.previous = append(r.previous, s)
	}
	return r, nil
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func exportChainKey(ck ChainKey) chainKeySnapshot {
	return chainKeySnapshot{Key: encode(ck.key[:]), Index: ck.index}
}

func exportState(s *SessionState) *stateSnapshot {
	snap := &stateSnapshot{
		Version:              s.version,
		RootKey:              encode(s.rootKey.key[:]),
		PreviousCounter:      s.previousCounter,
		LocalRegistrationID:  s.localRegistrationID,
		RemoteRegistrationID: s.remoteRegistrationID,
	}
	if !s.localIdentity.PublicKey.IsZero() {
		snap.LocalIdentity = encode(s.localIdentity.Serialize())
	}
	if !s.remoteIdentity.PublicKey.IsZero() {
		snap.RemoteIdentity = encode(s.remoteIdentity.Serialize())
	}
	if len(s.aliceBaseKey) > 0 {
		snap.AliceBaseKey = encode(s.aliceBaseKey)
	}
	if s.sender != nil {
		snap.Sender = &senderChainSnapshot{
			RatchetPrivate: encode(s.sender.ratchetKey.PrivateKey[:]),
			ChainKey:       exportChainKey(s.sender.chainKey),
		}
	}
	for _, r := range s.receivers {
		rs := receiverChainSnapshot{
			RatchetKey: encode(r.ratchetKey.Serialize()),
			ChainKey:   exportChainKey(r.chainKey),
		}
		for _, mk := range r.messageKeys {
			rs.MessageKeys = append(rs.MessageKeys, messageKeysSnapshot{
				CipherKey: encode(mk.CipherKey[:]),
				MacKey:    encode(mk.MacKey[:]),
				IV:        encode(mk.IV[:]),
				Counter:   mk.Counter,
			})
		}
		snap.Receivers = append(snap.Receivers, rs)
	}
	if s.pending != nil {
		snap.Pending = &pendingSnapshot{
			PreKeyID:       copyID(s.pending.preKeyID),
			SignedPreKeyID: s.pending.signedPreKeyID,
			BaseKey:        encode(s.pending.baseKey.Serialize()),
		}
	}
	return snap
}

func decodeFixed(value string, size int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}

func decodeKey(value string) (ecc.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return ecc.PublicKey{}, err
	}
	return ecc.DecodePoint(b)
}

func importChainKey(version uint32, snap chainKeySnapshot) (ChainKey, error) {
	b, err := decodeFixed(snap.Key, 32)
	if err != nil {
		return ChainKey{}, err
	}
	var key [32]byte
	copy(key[:], b)
	return NewChainKey(version, key, snap.Index), nil
}

func importState(snap *stateSnapshot) (*SessionState, error) {
	s := &SessionState{
		version:              snap.Version,
		previousCounter:      snap.PreviousCounter,
		localRegistrationID:  snap.LocalRegistrationID,
		remoteRegistrationID: snap.RemoteRegistrationID,
	}

	rk, err := decodeFixed(snap.RootKey, 32)
	if err != nil {
		return nil, fmt.Errorf("omemodr: decode root key: %w", err)
	}
	var rootKey [32]byte
	copy(rootKey[:], rk)
	s.rootKey = NewRootKey(snap.Version, rootKey)

	if snap.LocalIdentity != "" {
		k, err := decodeKey(snap.LocalIdentity)
		if err != nil {
			return nil, fmt.Errorf("omemodr: decode local identity: %w", err)
		}
		s.localIdentity = NewIdentityKey(k)
	}
	if snap.RemoteIdentity != "" {
		k, err := decodeKey(snap.RemoteIdentity)
		if err != nil {
			return nil, fmt.Errorf("omemodr: decode remote identity: %w", err)
		}
		s.remoteIdentity = NewIdentityKey(k)
	}
	if snap.AliceBaseKey != "" {
		if s.aliceBaseKey, err = base64.StdEncoding.DecodeString(snap.AliceBaseKey); err != nil {
			return nil, fmt.Errorf("omemodr: decode alice base key: %w", err)
		}
	}

	if snap.Sender != nil {
		priv, err := decodeFixed(snap.Sender.RatchetPrivate, 32)
		if err != nil {
			return nil, fmt.Errorf("omemodr: decode sender ratchet key: %w", err)
		}
		var pk ecc.PrivateKey
		copy(pk[:], priv)
		kp, err := ecc.KeyPairFromPrivate(pk)
		if err != nil {
			return nil, fmt.Errorf("omemodr: decode sender ratchet key: %w", err)
		}
		ck, err := importChainKey(snap.Version, snap.Sender.ChainKey)
		if err != nil {
			return nil, fmt.Errorf("omemodr: decode sender chain key: %w", err)
		}
		s.SetSenderChain(kp, ck)
	}

	for _, rs := range snap.Receivers {
		k, err := decodeKey(rs.RatchetKey)
		if err != nil {
			return nil, fmt.Errorf("omemodr: decode receiver ratchet key: %w", err)
		}
		ck, err := importChainKey(snap.Version, rs.ChainKey)
		if err != nil {
			return nil, fmt.Errorf("omemodr: decode receiver chain key: %w", err)
		}
		chain := receiverChain{ratchetKey: k, chainKey: ck}
		for _, ms := range rs.MessageKeys {
			mk := MessageKeys{Counter: ms.Counter}
			cipherKey, err := decodeFixed(ms.CipherKey, 32)
			if err != nil {
				return nil, fmt.Errorf("omemodr: decode message keys: %w", err)
			}
			macKey, err := decodeFixed(ms.MacKey, 32)
			if err != nil {
				return nil, fmt.Errorf("omemodr: decode message keys: %w", err)
			}
			iv, err := decodeFixed(ms.IV, 16)
			if err != nil {
				return nil, fmt.Errorf("omemodr: decode message keys: %w", err)
			}
			copy(mk.CipherKey[:], cipherKey)
			copy(mk.MacKey[:], macKey)
			copy(mk.IV[:], iv)
			chain.messageKeys = append(chain.messageKeys, mk)
		}
		s.receivers = append(s.receivers, chain)
	}

	if snap.Pending != nil {
		baseKey, err := decodeKey(snap.Pending.BaseKey)
		if err != nil {
			return nil, fmt.Errorf("omemodr: decode pending base key: %w", err)
		}
		s.SetUnacknowledgedPreKeyMessage(snap.Pending.PreKeyID, snap.Pending.SignedPreKeyID, baseKey)
	}
	return s, nil
}
