package redisstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stalker-loki/omemodr"
	"github.com/stalker-loki/omemodr/message"
)

// newSessionStore connects to the redis at OMEMODR_TEST_REDIS and namespaces
// the keys per test.
func newSessionStore(t *testing.T, owner string) *SessionStore {
	t.Helper()
	addr := os.Getenv("OMEMODR_TEST_REDIS")
	if addr == "" {
		t.Skip("OMEMODR_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	s := New(client, fmt.Sprintf("%s-%s-%d", t.Name(), owner, time.Now().UnixNano()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Nil(t, s.Ping(ctx))
	return s
}

func newProtocolStore(t *testing.T, owner string) (ProtocolStore, omemodr.PreKeyBundle) {
	t.Helper()
	identity, err := omemodr.GenerateIdentityKeyPair(rand.Reader)
	require.Nil(t, err)
	local := omemodr.NewProtocolStoreInMemory(identity, 1)

	signed, err := omemodr.GenerateSignedPreKey(rand.Reader, identity, 1, time.Now())
	require.Nil(t, err)
	require.Nil(t, local.StoreSignedPreKey(signed.ID, signed))

	spk := signed.KeyPair.PublicKey
	return NewProtocolStore(local, newSessionStore(t, owner)), omemodr.PreKeyBundle{
		RegistrationID:        1,
		DeviceID:              1,
		SignedPreKeyID:        signed.ID,
		SignedPreKey:          &spk,
		SignedPreKeySignature: signed.Signature[:],
		IdentityKey:           identity.Public,
	}
}

func TestSessionStore_Session(t *testing.T) {
	// Arrange.
	var (
		aliceStore, _    = newProtocolStore(t, "alice")
		bobStore, bundle = newProtocolStore(t, "bob")
		aliceAddr        = omemodr.Address{Name: "alice", DeviceID: 1}
		bobAddr          = omemodr.Address{Name: "bob", DeviceID: 1}
	)
	builder, err := omemodr.NewSessionBuilder(aliceStore, bobAddr)
	require.Nil(t, err)
	require.Nil(t, builder.ProcessPreKeyBundle(bundle))
	alice, err := omemodr.NewSessionCipher(aliceStore, bobAddr)
	require.Nil(t, err)
	bob, err := omemodr.NewSessionCipher(bobStore, aliceAddr)
	require.Nil(t, err)

	// Act.
	out, err := alice.Encrypt([]byte("hello bob"))
	require.Nil(t, err)
	pkm, err := message.ParsePreKeyWhisperMessage(out.Serialize())
	require.Nil(t, err)
	got, err := bob.DecryptPreKeyMessage(pkm)

	// Assert.
	require.Nil(t, err)
	require.Equal(t, []byte("hello bob"), got)
	ok, err := bobStore.ContainsSession(aliceAddr)
	require.Nil(t, err)
	require.True(t, ok)
	trusted, err := bobStore.IsTrustedIdentity("alice", omemodr.NewIdentityKey(pkm.IdentityKey))
	require.Nil(t, err)
	require.True(t, trusted)
}

func TestSessionStore_Devices(t *testing.T) {
	// Arrange.
	s := newSessionStore(t, "alice")
	for _, id := range []uint32{300, 2, 17} {
		require.Nil(t, s.StoreSession(omemodr.Address{Name: "bob", DeviceID: id}, omemodr.NewSessionRecord()))
	}

	// Act.
	ids, err := s.SubDeviceSessions("bob")
	require.Nil(t, err)
	blank, err := s.ContainsSession(omemodr.Address{Name: "bob", DeviceID: 2})
	require.Nil(t, err)
	require.Nil(t, s.DeleteSession(omemodr.Address{Name: "bob", DeviceID: 17}))
	afterDelete, _ := s.SubDeviceSessions("bob")
	require.Nil(t, s.DeleteAllSessions("bob"))
	afterDeleteAll, _ := s.SubDeviceSessions("bob")
	fresh, err := s.LoadSession(omemodr.Address{Name: "bob", DeviceID: 2})
	require.Nil(t, err)

	// Assert.
	require.Equal(t, []uint32{2, 17, 300}, ids)
	require.False(t, blank)
	require.Equal(t, []uint32{2, 300}, afterDelete)
	require.Empty(t, afterDeleteAll)
	require.True(t, fresh.IsFresh())
}

func TestSessionStore_Identities(t *testing.T) {
	// Arrange.
	var (
		s        = newSessionStore(t, "alice")
		first, _ = omemodr.GenerateIdentityKeyPair(rand.Reader)
		other, _ = omemodr.GenerateIdentityKeyPair(rand.Reader)
	)

	// Act.
	unknown, err1 := s.IsTrustedIdentity("bob", first.Public)
	require.Nil(t, s.SaveIdentity("bob", first.Public))
	same, err2 := s.IsTrustedIdentity("bob", first.Public)
	changed, err3 := s.IsTrustedIdentity("bob", other.Public)

	// Assert.
	require.Nil(t, err1)
	require.Nil(t, err2)
	require.Nil(t, err3)
	require.True(t, unknown)
	require.True(t, same)
	require.False(t, changed)
}
