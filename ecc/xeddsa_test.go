package ecc

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateSignature_VerifyWithCurveKey(t *testing.T) {
	// Arrange.
	var (
		pair, _ = GenerateKeyPair(rand.Reader)
		msg     = []byte("signed pre-key bytes")
	)

	// Act.
	sig, err := CalculateSignature(rand.Reader, pair.PrivateKey, msg)

	// Assert.
	require.Nil(t, err)
	require.True(t, VerifySignature(pair.PublicKey, msg, sig[:]))
}

func TestCalculateSignature_VerifyWithEdKey(t *testing.T) {
	// Arrange.
	var (
		pair, _ = GenerateKeyPair(rand.Reader)
		ed, _   = EdPublicKey(pair.PrivateKey)
		msg     = []byte("signed pre-key bytes")
	)

	// Act.
	sig, err := CalculateSignature(rand.Reader, pair.PrivateKey, msg)

	// Assert.
	require.Nil(t, err)
	require.True(t, VerifySignature(ed, msg, sig[:]))
}

func TestVerifySignature_ManyKeys(t *testing.T) {
	// Half of the generated keys have a set sign bit on the Edwards side.
	for i := 0; i < 32; i++ {
		pair, err := GenerateKeyPair(rand.Reader)
		require.Nil(t, err)

		sig, err := CalculateSignature(rand.Reader, pair.PrivateKey, []byte{byte(i)})
		require.Nil(t, err)
		require.True(t, VerifySignature(pair.PublicKey, []byte{byte(i)}, sig[:]))
	}
}

func TestVerifySignature_Tampered(t *testing.T) {
	// Arrange.
	var (
		pair, _  = GenerateKeyPair(rand.Reader)
		other, _ = GenerateKeyPair(rand.Reader)
		msg      = []byte("hello")
		sig, _   = CalculateSignature(rand.Reader, pair.PrivateKey, msg)
	)

	t.Run("message", func(t *testing.T) {
		require.False(t, VerifySignature(pair.PublicKey, []byte("hellO"), sig[:]))
	})

	t.Run("signature", func(t *testing.T) {
		bad := sig
		bad[5] ^= 1
		require.False(t, VerifySignature(pair.PublicKey, msg, bad[:]))
	})

	t.Run("high bits", func(t *testing.T) {
		bad := sig
		bad[63] |= 0xE0
		require.False(t, VerifySignature(pair.PublicKey, msg, bad[:]))
	})

	t.Run("wrong key", func(t *testing.T) {
		require.False(t, VerifySignature(other.PublicKey, msg, sig[:]))
	})

	t.Run("short", func(t *testing.T) {
		require.False(t, VerifySignature(pair.PublicKey, msg, sig[:63]))
	})
}

func TestCalculateSignature_Randomized(t *testing.T) {
	// Arrange.
	var (
		pair, _ = GenerateKeyPair(rand.Reader)
		msg     = []byte("hello")
	)

	// Act.
	sig1, err1 := CalculateSignature(rand.Reader, pair.PrivateKey, msg)
	sig2, err2 := CalculateSignature(rand.Reader, pair.PrivateKey, msg)

	// Assert.
	require.Nil(t, err1)
	require.Nil(t, err2)
	require.NotEqual(t, sig1, sig2)
}
