package omemodr

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProtocolStoreInMemory_Identities(t *testing.T) {
	// Arrange.
	var (
		d        = newDevice(t, "alice", 3)
		first, _ = GenerateIdentityKeyPair(rand.Reader)
		other, _ = GenerateIdentityKeyPair(rand.Reader)
	)

	// Act.
	unknown, err1 := d.store.IsTrustedIdentity("bob", first.Public)
	err2 := d.store.SaveIdentity("bob", first.Public)
	same, err3 := d.store.IsTrustedIdentity("bob", first.Public)
	changed, err4 := d.store.IsTrustedIdentity("bob", other.Public)

	// Assert.
	require.Nil(t, err1)
	require.Nil(t, err2)
	require.Nil(t, err3)
	require.Nil(t, err4)
	require.True(t, unknown)
	require.True(t, same)
	require.False(t, changed)

	identity, err := d.store.IdentityKeyPair()
	require.Nil(t, err)
	require.Equal(t, d.identity, identity)
	registrationID, err := d.store.LocalRegistrationID()
	require.Nil(t, err)
	require.Equal(t, d.registrationID, registrationID)
}

func TestProtocolStoreInMemory_PreKeys(t *testing.T) {
	// Arrange.
	d := newDevice(t, "alice", 3)
	id := d.preKeys[1].ID

	// Act.
	r, err := d.store.LoadPreKey(id)
	require.Nil(t, err)
	require.Nil(t, d.store.RemovePreKey(id))
	ok, _ := d.store.ContainsPreKey(id)
	_, missing := d.store.LoadPreKey(id)

	// Assert.
	require.Equal(t, d.preKeys[1], r)
	require.False(t, ok)
	require.ErrorIs(t, missing, ErrInvalidKeyID)
}

func TestProtocolStoreInMemory_SignedPreKeys(t *testing.T) {
	// Arrange.
	d := newDevice(t, "alice", 3)
	next, err := GenerateSignedPreKey(rand.Reader, d.identity, 2, d.signed.Timestamp)
	require.Nil(t, err)
	require.Nil(t, d.store.StoreSignedPreKey(next.ID, next))

	// Act.
	all, err := d.store.LoadSignedPreKeys()
	require.Nil(t, err)
	require.Nil(t, d.store.RemoveSignedPreKey(d.signed.ID))
	ok, _ := d.store.ContainsSignedPreKey(d.signed.ID)
	_, missing := d.store.LoadSignedPreKey(d.signed.ID)

	// Assert.
	require.Len(t, all, 2)
	require.EqualValues(t, 1, all[0].ID)
	require.EqualValues(t, 2, all[1].ID)
	require.False(t, ok)
	require.ErrorIs(t, missing, ErrInvalidKeyID)
}

func TestProtocolStoreInMemory_Sessions(t *testing.T) {
	// Arrange.
	h, alice, _ := newSessionPair(t, 3)
	h.establish()
	record, err := alice.store.LoadSession(Address{Name: "bob", DeviceID: 1})
	require.Nil(t, err)
	for _, id := range []uint32{7, 3} {
		require.Nil(t, alice.store.StoreSession(Address{Name: "bob", DeviceID: id}, record))
	}
	require.Nil(t, alice.store.StoreSession(Address{Name: "bob", DeviceID: 9}, NewSessionRecord()))

	t.Run("sub device sessions", func(t *testing.T) {
		ids, err := alice.store.SubDeviceSessions("bob")

		require.Nil(t, err)
		require.Equal(t, []uint32{1, 3, 7, 9}, ids)
	})

	t.Run("contains only established", func(t *testing.T) {
		established, err1 := alice.store.ContainsSession(Address{Name: "bob", DeviceID: 3})
		blank, err2 := alice.store.ContainsSession(Address{Name: "bob", DeviceID: 9})
		unknown, err3 := alice.store.ContainsSession(Address{Name: "carol", DeviceID: 1})

		require.Nil(t, err1)
		require.Nil(t, err2)
		require.Nil(t, err3)
		require.True(t, established)
		require.False(t, blank)
		require.False(t, unknown)
	})

	t.Run("load returns a copy", func(t *testing.T) {
		r, err := alice.store.LoadSession(Address{Name: "bob", DeviceID: 3})
		require.Nil(t, err)
		r.ArchiveCurrentState()

		again, err := alice.store.LoadSession(Address{Name: "bob", DeviceID: 3})
		require.Nil(t, err)
		require.True(t, again.SessionState().HasSenderChain())
	})

	t.Run("load unknown is fresh", func(t *testing.T) {
		r, err := alice.store.LoadSession(Address{Name: "carol", DeviceID: 1})

		require.Nil(t, err)
		require.True(t, r.IsFresh())
	})

	t.Run("delete", func(t *testing.T) {
		require.Nil(t, alice.store.DeleteSession(Address{Name: "bob", DeviceID: 7}))
		ids, _ := alice.store.SubDeviceSessions("bob")
		require.Equal(t, []uint32{1, 3, 9}, ids)

		require.Nil(t, alice.store.DeleteAllSessions("bob"))
		ids, _ = alice.store.SubDeviceSessions("bob")
		require.Empty(t, ids)
		require.Nil(t, alice.store.DeleteSession(Address{Name: "bob", DeviceID: 1}))
	})
}

func TestTrustOnFirstUse(t *testing.T) {
	// Arrange.
	var (
		a, _ = GenerateIdentityKeyPair(rand.Reader)
		b, _ = GenerateIdentityKeyPair(rand.Reader)
	)

	// Assert.
	require.True(t, TrustOnFirstUse(nil, a.Public))
	require.True(t, TrustOnFirstUse(&a.Public, a.Public))
	require.False(t, TrustOnFirstUse(&a.Public, b.Public))
}
