package ecc

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
)

// SignatureSize is the length of an XEdDSA signature.
const SignatureSize = 64

// hash1 domain-separates the XEdDSA nonce hash from a plain Ed25519 hash.
var hash1Prefix = func() []byte {
	p := make([]byte, 32)
	p[0] = 0xFE
	for i := 1; i < len(p); i++ {
		p[i] = 0xFF
	}
	return p
}()

// EdPublicKey returns the Ed25519 public key matching priv, with the sign bit
// cleared so that XEdDSA signatures made with priv verify against it.
func EdPublicKey(priv PrivateKey) (PublicKey, error) {
	_, a, err := edwardsPair(priv)
	if err != nil {
		return PublicKey{}, err
	}
	return NewEdPublicKey(a), nil
}

// edwardsPair maps a Montgomery private scalar to the XEdDSA signing scalar
// and the sign-normalized Edwards public key.
func edwardsPair(priv PrivateKey) (*edwards25519.Scalar, [32]byte, error) {
	var pub [32]byte
	k, err := edwards25519.NewScalar().SetBytesWithClamping(priv[:])
	if err != nil {
		return nil, pub, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	copy(pub[:], new(edwards25519.Point).ScalarBaseMult(k).Bytes())

	if pub[31]&0x80 != 0 {
		k = edwards25519.NewScalar().Negate(k)
		pub[31] &= 0x7F
	}
	return k, pub, nil
}

// CalculateSignature produces an XEdDSA signature of msg using the Curve25519
// private key priv. rand supplies the 64 bytes of signing randomness.
func CalculateSignature(rand io.Reader, priv PrivateKey, msg []byte) ([SignatureSize]byte, error) {
	var sig [SignatureSize]byte

	a, pub, err := edwardsPair(priv)
	if err != nil {
		return sig, err
	}

	var z [64]byte
	if _, err := io.ReadFull(rand, z[:]); err != nil {
		return sig, fmt.Errorf("couldn't read signing randomness: %w", err)
	}

	h := sha512.New()
	h.Write(hash1Prefix)
	h.Write(a.Bytes())
	h.Write(msg)
	h.Write(z[:])
	r, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return sig, err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	h.Reset()
	h.Write(R)
	h.Write(pub[:])
	h.Write(msg)
	hs, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return sig, err
	}
	s := edwards25519.NewScalar().MultiplyAdd(hs, a, r)

	copy(sig[:32], R)
	copy(sig[32:], s.Bytes())
	return sig, nil
}

// VerifySignature checks an XEdDSA signature. Curve25519 keys are mapped to
// their Edwards form with the sign bit cleared; Ed25519 keys are used as is.
func VerifySignature(pub PublicKey, msg, sig []byte) bool {
	if len(sig) != SignatureSize || sig[63]&0xE0 != 0 {
		return false
	}

	var edPub [32]byte
	switch pub.Type {
	case DjbType:
		y, err := montgomeryToEdwards(pub.Key)
		if err != nil {
			return false
		}
		edPub = y
	case EdType:
		edPub = pub.Key
	default:
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(edPub[:]), msg, sig)
}

// montgomeryToEdwards computes y = (u - 1) / (u + 1) with a zero sign bit.
func montgomeryToEdwards(u [32]byte) ([32]byte, error) {
	var y [32]byte
	ue, err := new(field.Element).SetBytes(u[:])
	if err != nil {
		return y, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	one := new(field.Element).One()
	num := new(field.Element).Subtract(ue, one)
	den := new(field.Element).Add(ue, one)
	ye := new(field.Element).Multiply(num, new(field.Element).Invert(den))
	copy(y[:], ye.Bytes())
	y[31] &= 0x7F
	return y, nil
}
