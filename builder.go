package omemodr

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stalker-loki/omemodr/ecc"
	"github.com/stalker-loki/omemodr/message"
)

// SessionBuilder sets up sessions with one remote device, either from the
// device's published PreKeyBundle or from an incoming PreKeyWhisperMessage.
type SessionBuilder struct {
	store  ProtocolStore
	remote Address
	cfg    config
	log    logrus.FieldLogger
}

// NewSessionBuilder creates a builder for sessions with remote.
func NewSessionBuilder(store ProtocolStore, remote Address, opts ...Option) (*SessionBuilder, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return newSessionBuilder(store, remote, cfg), nil
}

func newSessionBuilder(store ProtocolStore, remote Address, cfg config) *SessionBuilder {
	return &SessionBuilder{
		store:  store,
		remote: remote,
		cfg:    cfg,
		log:    cfg.log.WithField("remote", remote.String()),
	}
}

// checkIdentityType enforces Curve25519 identities for version 3 and Ed25519
// identities for version 4.
func checkIdentityType(version uint32, key IdentityKey) error {
	want := ecc.DjbType
	if version >= message.OMEMOVersion {
		want = ecc.EdType
	}
	if key.PublicKey.Type != want {
		return fmt.Errorf("%w: identity key type %#x does not match version %d", ErrInvalidKey, byte(key.PublicKey.Type), version)
	}
	return nil
}

func (b *SessionBuilder) checkTrusted(key IdentityKey) error {
	trusted, err := b.store.IsTrustedIdentity(b.remote.Name, key)
	if err != nil {
		return fmt.Errorf("failed to check identity: %w", err)
	}
	if !trusted {
		return &UntrustedIdentityError{Name: b.remote.Name, Key: key}
	}
	return nil
}

// ProcessPreKeyBundle starts a session as the initiator. The new session is
// stored and the bundle identity pinned. Nothing is stored on failure.
func (b *SessionBuilder) ProcessPreKeyBundle(bundle PreKeyBundle) error {
	version := b.cfg.version

	if err := bundle.verify(); err != nil {
		return err
	}
	if err := checkIdentityType(version, bundle.IdentityKey); err != nil {
		return err
	}
	if err := b.checkTrusted(bundle.IdentityKey); err != nil {
		return err
	}

	ourIdentity, err := b.store.IdentityKeyPair()
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if err := checkIdentityType(version, ourIdentity.Public); err != nil {
		return err
	}
	localRegistrationID, err := b.store.LocalRegistrationID()
	if err != nil {
		return fmt.Errorf("failed to load registration id: %w", err)
	}
	record, err := b.store.LoadSession(b.remote)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	baseKey, err := ecc.GenerateKeyPair(b.cfg.rand)
	if err != nil {
		return fmt.Errorf("failed to generate base key: %w", err)
	}
	ratchetKey, err := ecc.GenerateKeyPair(b.cfg.rand)
	if err != nil {
		return fmt.Errorf("failed to generate ratchet key: %w", err)
	}

	state := &SessionState{}
	err = InitializeAliceSession(state, version, AliceParameters{
		OurIdentityKey:     ourIdentity,
		OurBaseKey:         baseKey,
		OurRatchetKey:      ratchetKey,
		TheirIdentity:      bundle.IdentityKey,
		TheirSignedPreKey:  *bundle.SignedPreKey,
		TheirRatchetKey:    *bundle.SignedPreKey,
		TheirOneTimePreKey: bundle.PreKey,
	})
	if err != nil {
		return err
	}

	var preKeyID *uint32
	if bundle.PreKey != nil {
		id := bundle.PreKeyID
		preKeyID = &id
	}
	state.SetUnacknowledgedPreKeyMessage(preKeyID, bundle.SignedPreKeyID, baseKey.PublicKey)
	state.SetLocalRegistrationID(localRegistrationID)
	state.SetRemoteRegistrationID(bundle.RegistrationID)
	state.SetAliceBaseKey(baseKey.PublicKey.Serialize())
	install(record, state)

	if err := b.store.StoreSession(b.remote, record); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if err := b.store.SaveIdentity(b.remote.Name, bundle.IdentityKey); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	b.cfg.metrics.sessionBuilt("initiator")
	b.log.WithField("version", version).Debug("session initiated from pre-key bundle")
	return nil
}

// Process sets up the responder side of a session inside record from an
// incoming pre-key message and pins the sender identity. It returns the id of
// the one-time pre-key the message used, which the caller must remove once
// the message is decrypted, or nil. The record is not stored.
func (b *SessionBuilder) Process(record *SessionRecord, msg *message.PreKeyWhisperMessage) (*uint32, error) {
	preKeyID, _, err := b.process(record, msg)
	if err != nil {
		return nil, err
	}
	theirIdentity := NewIdentityKey(msg.IdentityKey)
	if err := b.store.SaveIdentity(b.remote.Name, theirIdentity); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}
	return preKeyID, nil
}

// process only touches record. built is false for an initial message that was
// already processed.
func (b *SessionBuilder) process(record *SessionRecord, msg *message.PreKeyWhisperMessage) (preKeyID *uint32, built bool, err error) {
	if msg.Version != message.CurrentVersion && msg.Version != message.OMEMOVersion {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidVersion, msg.Version)
	}

	theirIdentity := NewIdentityKey(msg.IdentityKey)
	if err := checkIdentityType(msg.Version, theirIdentity); err != nil {
		return nil, false, err
	}
	if err := b.checkTrusted(theirIdentity); err != nil {
		return nil, false, err
	}

	if record.HasSessionState(msg.Version, msg.BaseKey.Serialize()) {
		b.log.Debug("session for this pre-key message already set up, letting the message fall through")
		return nil, false, nil
	}

	ourIdentity, err := b.store.IdentityKeyPair()
	if err != nil {
		return nil, false, fmt.Errorf("failed to load identity: %w", err)
	}
	if err := checkIdentityType(msg.Version, ourIdentity.Public); err != nil {
		return nil, false, err
	}
	localRegistrationID, err := b.store.LocalRegistrationID()
	if err != nil {
		return nil, false, fmt.Errorf("failed to load registration id: %w", err)
	}
	signedPreKey, err := b.store.LoadSignedPreKey(msg.SignedPreKeyID)
	if err != nil {
		return nil, false, err
	}

	var oneTimePreKey *ecc.KeyPair
	if msg.PreKeyID != nil {
		r, err := b.store.LoadPreKey(*msg.PreKeyID)
		if err != nil {
			return nil, false, err
		}
		oneTimePreKey = &r.KeyPair
	}

	state := &SessionState{}
	err = InitializeBobSession(state, msg.Version, BobParameters{
		OurIdentityKey:   ourIdentity,
		OurSignedPreKey:  signedPreKey.KeyPair,
		OurRatchetKey:    signedPreKey.KeyPair,
		OurOneTimePreKey: oneTimePreKey,
		TheirIdentity:    theirIdentity,
		TheirBaseKey:     msg.BaseKey,
	})
	if err != nil {
		return nil, false, err
	}
	state.SetLocalRegistrationID(localRegistrationID)
	state.SetRemoteRegistrationID(msg.RegistrationID)
	state.SetAliceBaseKey(msg.BaseKey.Serialize())
	install(record, state)

	b.log.WithField("version", msg.Version).Debug("session set up from pre-key message")
	return copyID(msg.PreKeyID), true, nil
}

// install makes state current, archiving the previous session if any.
func install(record *SessionRecord, state *SessionState) {
	if record.IsFresh() {
		record.SetState(state)
		return
	}
	record.PromoteState(state)
}
