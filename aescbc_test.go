package omemodr

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCBC_RoundTrip(t *testing.T) {
	var (
		key = [32]byte{1, 2, 3}
		iv  = [16]byte{4, 5, 6}
	)
	for _, n := range []int{0, 1, 15, 16, 17, 100} {
		// Arrange.
		pt := make([]byte, n)
		for i := range pt {
			pt[i] = byte(i)
		}

		// Act.
		ct := encryptCBC(key, iv, pt)
		got, err := decryptCBC(key, iv, ct)

		// Assert.
		require.Nil(t, err)
		require.Equal(t, pt, got)
		require.Zero(t, len(ct)%16)
		require.Greater(t, len(ct), n)
	}
}

func TestCBC_Invalid(t *testing.T) {
	// Arrange.
	var (
		key = [32]byte{1, 2, 3}
		iv  = [16]byte{4, 5, 6}
		ct  = encryptCBC(key, iv, []byte("hello"))
	)

	for name, in := range map[string][]byte{
		"empty":         nil,
		"partial block": ct[:10],
		"zero padding":  rawCBC(key, iv, 0x00),
		"long padding":  rawCBC(key, iv, 0x11),
		"mixed padding": rawCBC(key, iv, 0x02),
	} {
		t.Run(name, func(t *testing.T) {
			// Act.
			_, err := decryptCBC(key, iv, in)

			// Assert.
			require.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

// rawCBC encrypts one unpadded block of zeros ending in last.
func rawCBC(key [32]byte, iv [16]byte, last byte) []byte {
	block, _ := aes.NewCipher(key[:])
	pt := make([]byte, aes.BlockSize)
	pt[len(pt)-1] = last
	ct := make([]byte, len(pt))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(ct, pt)
	return ct
}
