// Package ecc provides the Curve25519 and Ed25519 primitives used by the
// session engine: key generation, X25519 agreement and XEdDSA signatures.
package ecc

import (
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// GenerateKeyPair returns a new Curve25519 key pair read from rand.
func GenerateKeyPair(rand io.Reader) (KeyPair, error) {
	var privKey PrivateKey
	if _, err := io.ReadFull(rand, privKey[:]); err != nil {
		return KeyPair{}, fmt.Errorf("couldn't generate privKey: %w", err)
	}
	privKey[0] &= 248
	privKey[31] &= 127
	privKey[31] |= 64

	return KeyPairFromPrivate(privKey)
}

// KeyPairFromPrivate recomputes the public half for an existing private key.
func KeyPairFromPrivate(privKey PrivateKey) (KeyPair, error) {
	pub, err := curve25519.X25519(privKey[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	var pubKey [32]byte
	copy(pubKey[:], pub)
	return KeyPair{
		PublicKey:  NewDjbPublicKey(pubKey),
		PrivateKey: privKey,
	}, nil
}

// CalculateAgreement returns the X25519 shared secret between pub and priv.
// Ed25519 public keys are converted to their Montgomery form first.
func CalculateAgreement(pub PublicKey, priv PrivateKey) ([32]byte, error) {
	var dhOut [32]byte
	u, err := pub.Montgomery()
	if err != nil {
		return dhOut, err
	}
	out, err := curve25519.X25519(priv[:], u[:])
	if err != nil {
		return dhOut, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	copy(dhOut[:], out)
	return dhOut, nil
}
