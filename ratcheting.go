package omemodr

import (
	"bytes"
	"fmt"

	"github.com/stalker-loki/omemodr/ecc"
)

// discontinuity is prepended to the agreement secrets from version 3 on.
var discontinuity = bytes.Repeat([]byte{0xFF}, 32)

// AliceParameters are the inputs of the session initiator.
type AliceParameters struct {
	OurIdentityKey     IdentityKeyPair
	OurBaseKey         ecc.KeyPair
	OurRatchetKey      ecc.KeyPair
	TheirIdentity      IdentityKey
	TheirSignedPreKey  ecc.PublicKey
	TheirRatchetKey    ecc.PublicKey
	// TheirOneTimePreKey is nil when the bundle had none.
	TheirOneTimePreKey *ecc.PublicKey
}

// BobParameters are the inputs of the session responder.
type BobParameters struct {
	OurIdentityKey   IdentityKeyPair
	OurSignedPreKey  ecc.KeyPair
	OurRatchetKey    ecc.KeyPair
	// OurOneTimePreKey is nil when the initiator used none.
	OurOneTimePreKey *ecc.KeyPair
	TheirIdentity    IdentityKey
	TheirBaseKey     ecc.PublicKey
}

type agreement struct {
	secrets []byte
	err     error
}

func newAgreement(version uint32) *agreement {
	a := &agreement{}
	if version >= 3 {
		a.secrets = append(a.secrets, discontinuity...)
	}
	return a
}

func (a *agreement) add(pub ecc.PublicKey, priv ecc.PrivateKey) {
	if a.err != nil {
		return
	}
	shared, err := ecc.CalculateAgreement(pub, priv)
	if err != nil {
		a.err = fmt.Errorf("failed to calculate agreement: %w", err)
		return
	}
	a.secrets = append(a.secrets, shared[:]...)
}

// InitializeAliceSession populates a blank state for the initiator. The
// chain derived from the agreement is the receiving chain for the peer's
// signed pre-key; a DH step with p.OurRatchetKey creates the sending chain.
func InitializeAliceSession(state *SessionState, version uint32, p AliceParameters) error {
	state.SetVersion(version)
	state.SetRemoteIdentityKey(p.TheirIdentity)
	state.SetLocalIdentityKey(p.OurIdentityKey.Public)

	a := newAgreement(version)
	a.add(p.TheirSignedPreKey, p.OurIdentityKey.Private)
	a.add(p.TheirIdentity.PublicKey, p.OurBaseKey.PrivateKey)
	a.add(p.TheirSignedPreKey, p.OurBaseKey.PrivateKey)
	if version >= 3 && p.TheirOneTimePreKey != nil {
		a.add(*p.TheirOneTimePreKey, p.OurBaseKey.PrivateKey)
	}
	if a.err != nil {
		return a.err
	}

	rootKey, chainKey := deriveInitialKeys(version, a.secrets)
	nextRoot, sendingChain, err := rootKey.CreateChain(p.TheirRatchetKey, p.OurRatchetKey)
	if err != nil {
		return fmt.Errorf("failed to create sending chain: %w", err)
	}

	state.AddReceiverChain(p.TheirRatchetKey, chainKey)
	state.SetSenderChain(p.OurRatchetKey, sendingChain)
	state.SetRootKey(nextRoot)
	return nil
}

// InitializeBobSession populates a blank state for the responder, whose
// first ratchet key is its signed pre-key.
func InitializeBobSession(state *SessionState, version uint32, p BobParameters) error {
	state.SetVersion(version)
	state.SetRemoteIdentityKey(p.TheirIdentity)
	state.SetLocalIdentityKey(p.OurIdentityKey.Public)

	a := newAgreement(version)
	a.add(p.TheirIdentity.PublicKey, p.OurSignedPreKey.PrivateKey)
	a.add(p.TheirBaseKey, p.OurIdentityKey.Private)
	a.add(p.TheirBaseKey, p.OurSignedPreKey.PrivateKey)
	if version >= 3 && p.OurOneTimePreKey != nil {
		a.add(p.TheirBaseKey, p.OurOneTimePreKey.PrivateKey)
	}
	if a.err != nil {
		return a.err
	}

	rootKey, chainKey := deriveInitialKeys(version, a.secrets)
	state.SetSenderChain(p.OurRatchetKey, chainKey)
	state.SetRootKey(rootKey)
	return nil
}
