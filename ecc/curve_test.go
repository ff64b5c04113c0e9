package ecc

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	// Act.
	pair, err := GenerateKeyPair(rand.Reader)

	// Assert.
	require.Nil(t, err)
	require.EqualValues(t, 0, pair.PrivateKey[0]&7)
	require.EqualValues(t, 0, pair.PrivateKey[31]&128)
	require.EqualValues(t, 64, pair.PrivateKey[31]&64)
	require.Equal(t, DjbType, pair.PublicKey.Type)
	require.Len(t, pair.PublicKey.Serialize(), 33)
}

func TestGenerateKeyPair_ShortRand(t *testing.T) {
	// Act.
	_, err := GenerateKeyPair(bytes.NewReader([]byte{1, 2, 3}))

	// Assert.
	require.NotNil(t, err)
}

func TestCalculateAgreement(t *testing.T) {
	// Arrange.
	var (
		alicePair, err1 = GenerateKeyPair(rand.Reader)
		bobPair, err2   = GenerateKeyPair(rand.Reader)
	)
	require.Nil(t, err1)
	require.Nil(t, err2)

	// Act.
	var (
		aliceSK, err3 = CalculateAgreement(bobPair.PublicKey, alicePair.PrivateKey)
		bobSK, err4   = CalculateAgreement(alicePair.PublicKey, bobPair.PrivateKey)
	)

	// Assert.
	require.Nil(t, err3)
	require.Nil(t, err4)
	require.NotEqual(t, [32]byte{}, aliceSK)
	require.Equal(t, aliceSK, bobSK)
}

func TestCalculateAgreement_EdPublicKey(t *testing.T) {
	// Arrange.
	var (
		alicePair, _ = GenerateKeyPair(rand.Reader)
		bobPair, _   = GenerateKeyPair(rand.Reader)
		bobEd, err   = EdPublicKey(bobPair.PrivateKey)
	)
	require.Nil(t, err)

	// Act.
	var (
		viaEd, err1  = CalculateAgreement(bobEd, alicePair.PrivateKey)
		viaDjb, err2 = CalculateAgreement(bobPair.PublicKey, alicePair.PrivateKey)
	)

	// Assert.
	require.Nil(t, err1)
	require.Nil(t, err2)
	require.Equal(t, viaDjb, viaEd)
}

func TestPublicKey_Montgomery(t *testing.T) {
	// Arrange.
	pair, _ := GenerateKeyPair(rand.Reader)
	ed, err := EdPublicKey(pair.PrivateKey)
	require.Nil(t, err)

	// Act.
	u, err := ed.Montgomery()

	// Assert.
	require.Nil(t, err)
	require.Equal(t, pair.PublicKey.Key, u)
}

func TestDecodePoint(t *testing.T) {
	// Arrange.
	pair, _ := GenerateKeyPair(rand.Reader)
	ed, _ := EdPublicKey(pair.PrivateKey)

	t.Run("curve25519", func(t *testing.T) {
		// Act.
		k, err := DecodePoint(pair.PublicKey.Serialize())

		// Assert.
		require.Nil(t, err)
		require.True(t, k.Equal(pair.PublicKey))
	})

	t.Run("ed25519", func(t *testing.T) {
		// Act.
		k, err := DecodePoint(ed.Serialize())

		// Assert.
		require.Nil(t, err)
		require.Equal(t, EdType, k.Type)
		require.True(t, k.Equal(ed))
	})

	t.Run("bad type byte", func(t *testing.T) {
		// Arrange.
		b := pair.PublicKey.Serialize()
		b[0] = 0x04

		// Act.
		_, err := DecodePoint(b)

		// Assert.
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("bad length", func(t *testing.T) {
		// Act.
		_, err := DecodePoint(make([]byte, 31))

		// Assert.
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}
