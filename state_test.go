package omemodr

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stalker-loki/omemodr/ecc"
)

func newRatchetKey(t *testing.T) ecc.KeyPair {
	t.Helper()
	kp, err := ecc.GenerateKeyPair(rand.Reader)
	require.Nil(t, err)
	return kp
}

func TestSessionState_AddReceiverChain_Bounded(t *testing.T) {
	// Arrange.
	var (
		s    = &SessionState{}
		keys []ecc.PublicKey
	)
	for i := 0; i < maxReceiverChains+2; i++ {
		keys = append(keys, newRatchetKey(t).PublicKey)
	}

	// Act.
	for i, k := range keys {
		s.AddReceiverChain(k, NewChainKey(3, [32]byte{byte(i)}, 0))
	}

	// Assert.
	require.Equal(t, maxReceiverChains, s.ReceiverChainCount())
	require.False(t, s.HasReceiverChain(keys[0]))
	require.False(t, s.HasReceiverChain(keys[1]))
	for _, k := range keys[2:] {
		require.True(t, s.HasReceiverChain(k))
	}
	ck, ok := s.ReceiverChainKey(keys[len(keys)-1])
	require.True(t, ok)
	require.Equal(t, [32]byte{byte(len(keys) - 1)}, ck.Key())
}

func TestSessionState_SetMessageKeys_Bounded(t *testing.T) {
	// Arrange.
	var (
		s  = &SessionState{}
		rk = newRatchetKey(t).PublicKey
	)
	s.AddReceiverChain(rk, NewChainKey(3, [32]byte{1}, 0))

	// Act.
	for i := uint32(0); i < maxMessageKeys+5; i++ {
		s.SetMessageKeys(rk, MessageKeys{Counter: i})
	}

	// Assert.
	require.False(t, s.HasMessageKeys(rk, 4))
	require.True(t, s.HasMessageKeys(rk, 5))
	require.True(t, s.HasMessageKeys(rk, maxMessageKeys+4))
}

func TestSessionState_RemoveMessageKeys(t *testing.T) {
	// Arrange.
	var (
		s  = &SessionState{}
		rk = newRatchetKey(t).PublicKey
	)
	s.AddReceiverChain(rk, NewChainKey(3, [32]byte{1}, 0))
	s.SetMessageKeys(rk, MessageKeys{Counter: 3, IV: [16]byte{3}})
	s.SetMessageKeys(rk, MessageKeys{Counter: 7, IV: [16]byte{7}})

	// Act.
	mk, ok := s.RemoveMessageKeys(rk, 3)
	_, again := s.RemoveMessageKeys(rk, 3)
	_, unknown := s.RemoveMessageKeys(newRatchetKey(t).PublicKey, 7)

	// Assert.
	require.True(t, ok)
	require.Equal(t, [16]byte{3}, mk.IV)
	require.False(t, again)
	require.False(t, unknown)
	require.True(t, s.HasMessageKeys(rk, 7))
}

func TestSessionState_Clone(t *testing.T) {
	// Arrange.
	var (
		s  = &SessionState{}
		rk = newRatchetKey(t).PublicKey
		id = uint32(9)
	)
	s.SetSenderChain(newRatchetKey(t), NewChainKey(3, [32]byte{1}, 0))
	s.AddReceiverChain(rk, NewChainKey(3, [32]byte{2}, 0))
	s.SetMessageKeys(rk, MessageKeys{Counter: 1})
	s.SetUnacknowledgedPreKeyMessage(&id, 1, rk)
	s.SetAliceBaseKey([]byte{1, 2, 3})

	// Act.
	sc := s.Clone()
	sc.SetSenderChainKey(sc.SenderChainKey().Next())
	sc.SetReceiverChainKey(rk, NewChainKey(3, [32]byte{3}, 5))
	sc.RemoveMessageKeys(rk, 1)
	sc.AddReceiverChain(newRatchetKey(t).PublicKey, ChainKey{})
	sc.ClearUnacknowledgedPreKeyMessage()
	sc.AliceBaseKey()[0] = 0xff

	// Assert.
	require.EqualValues(t, 0, s.SenderChainKey().Index())
	ck, _ := s.ReceiverChainKey(rk)
	require.EqualValues(t, 0, ck.Index())
	require.True(t, s.HasMessageKeys(rk, 1))
	require.Equal(t, 1, s.ReceiverChainCount())
	require.True(t, s.HasUnacknowledgedPreKeyMessage())
	require.Equal(t, []byte{1, 2, 3}, s.AliceBaseKey())
}

func TestSessionState_UnacknowledgedPreKeyMessage(t *testing.T) {
	// Arrange.
	var (
		s    = &SessionState{}
		base = newRatchetKey(t).PublicKey
		id   = uint32(42)
	)

	// Act.
	s.SetUnacknowledgedPreKeyMessage(&id, 7, base)
	id = 43
	preKeyID, signedPreKeyID, baseKey := s.UnacknowledgedPreKeyMessage()

	// Assert.
	require.True(t, s.HasUnacknowledgedPreKeyMessage())
	require.NotNil(t, preKeyID)
	require.EqualValues(t, 42, *preKeyID)
	require.EqualValues(t, 7, signedPreKeyID)
	require.True(t, base.Equal(baseKey))

	s.ClearUnacknowledgedPreKeyMessage()
	require.False(t, s.HasUnacknowledgedPreKeyMessage())
}

func TestSessionRecord_PromoteState(t *testing.T) {
	// Arrange.
	r := NewSessionRecord()
	require.True(t, r.IsFresh())

	// Act.
	states := make([]*SessionState, maxArchivedStates+3)
	for i := range states {
		states[i] = &SessionState{version: 3, aliceBaseKey: []byte{byte(i)}}
		r.PromoteState(states[i])
	}

	// Assert.
	require.False(t, r.IsFresh())
	require.Equal(t, states[len(states)-1], r.SessionState())
	require.Len(t, r.PreviousStates(), maxArchivedStates)
	require.Equal(t, states[len(states)-2], r.PreviousStates()[0])
	require.True(t, r.HasSessionState(3, []byte{byte(len(states) - 1)}))
	require.True(t, r.HasSessionState(3, []byte{2}))
	require.False(t, r.HasSessionState(3, []byte{1}))
	require.False(t, r.HasSessionState(4, []byte{2}))
}

func TestSessionRecord_ArchiveCurrentState(t *testing.T) {
	// Arrange.
	var (
		r = NewSessionRecord()
		s = &SessionState{version: 3}
	)
	r.SetState(s)

	// Act.
	r.ArchiveCurrentState()

	// Assert.
	require.False(t, r.SessionState().HasSenderChain())
	require.Len(t, r.PreviousStates(), 1)
	require.Equal(t, s, r.PreviousStates()[0])
}

func TestSessionRecord_RemovePrevious(t *testing.T) {
	// Arrange.
	r := NewSessionRecord()
	for v := uint32(2); v <= 4; v++ {
		r.PromoteState(&SessionState{version: v})
	}
	// previous is now [3, 2, blank].
	held := r.PreviousStates()

	// Act.
	r.removePrevious(1)

	// Assert.
	require.Len(t, r.PreviousStates(), 2)
	require.EqualValues(t, 3, r.PreviousStates()[0].Version())
	require.EqualValues(t, 0, r.PreviousStates()[1].Version())
	require.EqualValues(t, 2, held[1].Version())
}

func TestSessionRecord_SerializeLoad(t *testing.T) {
	// Arrange.
	h, _, bob := newSessionPair(t, 3)
	h.establish()
	_, err := h.alice.Encrypt([]byte("skipped"))
	require.Nil(t, err)
	h.AliceToBob("delivered")

	record, err := bob.store.LoadSession(Address{Name: "alice", DeviceID: 1})
	require.Nil(t, err)
	record.ArchiveCurrentState()
	record.PromoteState(record.PreviousStates()[0].Clone())

	// Act.
	b, err := record.Serialize()
	require.Nil(t, err)
	loaded, err := LoadSessionRecord(b)
	require.Nil(t, err)
	again, err := loaded.Serialize()
	require.Nil(t, err)

	// Assert.
	require.Equal(t, b, again)
	require.False(t, loaded.IsFresh())
	require.Len(t, loaded.PreviousStates(), len(record.PreviousStates()))

	var (
		want = record.SessionState()
		got  = loaded.SessionState()
	)
	require.Equal(t, want.Version(), got.Version())
	require.Equal(t, want.RootKey().Key(), got.RootKey().Key())
	require.Equal(t, want.SenderChainKey().Key(), got.SenderChainKey().Key())
	require.Equal(t, want.SenderChainKey().Index(), got.SenderChainKey().Index())
	require.Equal(t, want.SenderRatchetKey(), got.SenderRatchetKey())
	require.Equal(t, want.ReceiverChainCount(), got.ReceiverChainCount())
	require.True(t, want.RemoteIdentityKey().Equal(got.RemoteIdentityKey()))
	require.Equal(t, want.AliceBaseKey(), got.AliceBaseKey())
	require.Equal(t, want.RemoteRegistrationID(), got.RemoteRegistrationID())
}

func TestLoadSessionRecord_Invalid(t *testing.T) {
	for _, b := range [][]byte{
		nil,
		[]byte("{}"),
		[]byte(`{"current":{"rootKey":"AAAA"}}`),
		[]byte(`{"current":{"rootKey":"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=","sender":{"ratchetPrivate":"!"}}}`),
	} {
		// Act.
		_, err := LoadSessionRecord(b)

		// Assert.
		require.NotNil(t, err)
	}
}
