// Package kdf implements HKDF-SHA256 as used by the ratchet. Protocol
// version 2 counts expansion blocks from 0; later versions follow RFC 5869
// and count from 1.
package kdf

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashOutputSize is the SHA-256 digest length.
const HashOutputSize = sha256.Size

// HKDF derives key material for one protocol version.
type HKDF struct {
	offset int
}

// New returns the HKDF variant for the given protocol version.
func New(version uint32) HKDF {
	if version <= 2 {
		return HKDF{offset: 0}
	}
	return HKDF{offset: 1}
}

// Extract returns HMAC-SHA256(salt, ikm). A nil salt is treated as 32 zero bytes.
func (h HKDF) Extract(salt, ikm []byte) []byte {
	return hkdf.Extract(sha256.New, ikm, salt)
}

// Expand produces length bytes of output keyed by prk.
func (h HKDF) Expand(prk, info []byte, length int) []byte {
	out := make([]byte, length)
	if h.offset == 1 {
		// The only error here is the RFC 5869 output limit, far above our lengths.
		_, _ = io.ReadFull(hkdf.Expand(sha256.New, prk, info), out)
		return out
	}

	var (
		mixin []byte
		n     int
	)
	for i := h.offset; n < length; i++ {
		mac := hmac.New(sha256.New, prk)
		mac.Write(mixin)
		mac.Write(info)
		mac.Write([]byte{byte(i)})
		mixin = mac.Sum(nil)
		n += copy(out[n:], mixin)
	}
	return out
}

// DeriveSecrets runs Extract followed by Expand.
func (h HKDF) DeriveSecrets(ikm, salt, info []byte, length int) []byte {
	return h.Expand(h.Extract(salt, ikm), info, length)
}
