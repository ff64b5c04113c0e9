package omemodr

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// encryptCBC uses AES-256-CBC with PKCS#7 padding.
func encryptCBC(key [32]byte, iv [16]byte, plaintext []byte) []byte {
	padding := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padding)
	copy(padded, plaintext)
	copy(padded[len(plaintext):], bytes.Repeat([]byte{byte(padding)}, padding))

	var (
		block, _   = aes.NewCipher(key[:]) // No error will occur here as key is guaranteed to be 32 bytes.
		ciphertext = make([]byte, len(padded))
	)
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(ciphertext, padded)
	return ciphertext
}

func decryptCBC(key [32]byte, iv [16]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrInvalidMessage)
	}

	var (
		block, _  = aes.NewCipher(key[:]) // No error will occur here as key is guaranteed to be 32 bytes.
		plaintext = make([]byte, len(ciphertext))
	)
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidMessage)
	}
	for _, b := range plaintext[len(plaintext)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidMessage)
		}
	}
	return plaintext[:len(plaintext)-padding], nil
}
