package omemodr

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stalker-loki/omemodr/ecc"
	"github.com/stalker-loki/omemodr/message"
)

// SessionCipher encrypts and decrypts messages for one remote device.
// Operations on the same remote must be serialized by the caller.
type SessionCipher struct {
	store   ProtocolStore
	remote  Address
	builder *SessionBuilder
	cfg     config
	log     logrus.FieldLogger
}

// NewSessionCipher creates a cipher for the session with remote.
func NewSessionCipher(store ProtocolStore, remote Address, opts ...Option) (*SessionCipher, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	b := newSessionBuilder(store, remote, cfg)
	return &SessionCipher{
		store:   store,
		remote:  remote,
		builder: b,
		cfg:     cfg,
		log:     b.log,
	}, nil
}

// Encrypt advances the sending chain and returns plaintext encrypted with the
// resulting message keys. Until the peer has replied the result is a
// *message.PreKeyWhisperMessage, afterwards a *message.WhisperMessage.
func (c *SessionCipher) Encrypt(plaintext []byte) (message.CiphertextMessage, error) {
	record, err := c.store.LoadSession(c.remote)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	state := record.SessionState()
	if !state.HasSenderChain() {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, c.remote)
	}

	var (
		version  = state.Version()
		chainKey = state.SenderChainKey()
		mk       = chainKey.MessageKeys()
	)
	wm, err := message.NewWhisperMessage(
		version,
		mk.MacKey[:],
		state.SenderRatchetKey().PublicKey,
		chainKey.Index(),
		state.PreviousCounter(),
		encryptCBC(mk.CipherKey, mk.IV, plaintext),
		state.LocalIdentityKey().PublicKey,
		state.RemoteIdentityKey().PublicKey,
	)
	if err != nil {
		return nil, err
	}

	var out message.CiphertextMessage = wm
	if state.HasUnacknowledgedPreKeyMessage() {
		preKeyID, signedPreKeyID, baseKey := state.UnacknowledgedPreKeyMessage()
		out, err = message.NewPreKeyWhisperMessage(
			version,
			state.LocalRegistrationID(),
			preKeyID,
			signedPreKeyID,
			baseKey,
			state.LocalIdentityKey().PublicKey,
			wm,
		)
		if err != nil {
			return nil, err
		}
	}

	state.SetSenderChainKey(chainKey.Next())
	if err := c.store.StoreSession(c.remote, record); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	c.cfg.metrics.encrypted(typeLabel(out.Type()))
	return out, nil
}

// DecryptMessage decrypts a message of an established session.
func (c *SessionCipher) DecryptMessage(msg *message.WhisperMessage) ([]byte, error) {
	plaintext, err := c.decryptMessage(msg)
	c.cfg.metrics.decrypted(typeLabel(message.WhisperType), err)
	return plaintext, err
}

func (c *SessionCipher) decryptMessage(msg *message.WhisperMessage) ([]byte, error) {
	ok, err := c.store.ContainsSession(c.remote)
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, c.remote)
	}

	record, err := c.store.LoadSession(c.remote)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	plaintext, err := c.decryptWithRecord(record, msg)
	if err != nil {
		return nil, err
	}
	if err := c.store.StoreSession(c.remote, record); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return plaintext, nil
}

// DecryptPreKeyMessage sets up the session described by msg if needed and
// decrypts the message it carries. The session, the sender identity and the
// consumed one-time pre-key are only persisted once decryption succeeded.
func (c *SessionCipher) DecryptPreKeyMessage(msg *message.PreKeyWhisperMessage) ([]byte, error) {
	plaintext, err := c.decryptPreKeyMessage(msg)
	c.cfg.metrics.decrypted(typeLabel(message.PreKeyType), err)
	return plaintext, err
}

func (c *SessionCipher) decryptPreKeyMessage(msg *message.PreKeyWhisperMessage) ([]byte, error) {
	record, err := c.store.LoadSession(c.remote)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	preKeyID, built, err := c.builder.process(record, msg)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.decryptWithRecord(record, msg.Message)
	if err != nil {
		return nil, err
	}

	if err := c.store.StoreSession(c.remote, record); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if err := c.store.SaveIdentity(c.remote.Name, NewIdentityKey(msg.IdentityKey)); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}
	if preKeyID != nil {
		if err := c.store.RemovePreKey(*preKeyID); err != nil {
			return nil, fmt.Errorf("failed to remove pre-key %d: %w", *preKeyID, err)
		}
	}
	if built {
		c.cfg.metrics.sessionBuilt("responder")
	}
	return plaintext, nil
}

// decryptWithRecord tries the current state, then every archived state from
// most to least recent. Each attempt runs on a clone; the record only changes
// when an attempt succeeds.
func (c *SessionCipher) decryptWithRecord(record *SessionRecord, msg *message.WhisperMessage) ([]byte, error) {
	var errs []error

	state := record.SessionState().Clone()
	plaintext, err := c.decryptWithState(state, msg)
	if err == nil {
		record.SetState(state)
		return plaintext, nil
	}
	if !errors.Is(err, ErrInvalidMessage) {
		return nil, err
	}
	errs = append(errs, err)

	for i, previous := range record.PreviousStates() {
		state := previous.Clone()
		plaintext, err := c.decryptWithState(state, msg)
		if err == nil {
			record.removePrevious(i)
			record.PromoteState(state)
			c.cfg.metrics.statePromoted()
			c.log.WithField("index", i).Debug("promoted archived session state")
			return plaintext, nil
		}
		if !errors.Is(err, ErrInvalidMessage) {
			return nil, err
		}
		errs = append(errs, err)
	}

	c.log.WithField("attempts", len(errs)).Debug("no session state could decrypt the message")
	return nil, &DecryptError{Errs: errs}
}

func (c *SessionCipher) decryptWithState(state *SessionState, msg *message.WhisperMessage) ([]byte, error) {
	if !state.HasSenderChain() {
		return nil, fmt.Errorf("%w: uninitialized session", ErrInvalidMessage)
	}
	if msg.Version != state.Version() {
		return nil, fmt.Errorf("%w: message version %d, session version %d", ErrInvalidMessage, msg.Version, state.Version())
	}

	chainKey, err := c.getOrCreateChainKey(state, msg.RatchetKey)
	if err != nil {
		return nil, err
	}
	mk, err := c.getOrCreateMessageKeys(state, msg.RatchetKey, chainKey, msg.Counter)
	if err != nil {
		return nil, err
	}

	if err := msg.VerifyMAC(state.RemoteIdentityKey().PublicKey, state.LocalIdentityKey().PublicKey, mk.MacKey[:]); err != nil {
		return nil, err
	}
	plaintext, err := decryptCBC(mk.CipherKey, mk.IV, msg.Ciphertext)
	if err != nil {
		return nil, err
	}

	state.ClearUnacknowledgedPreKeyMessage()
	return plaintext, nil
}

// getOrCreateChainKey returns the receiver chain for theirRatchetKey,
// performing a DH ratchet step if the key is new.
func (c *SessionCipher) getOrCreateChainKey(state *SessionState, theirRatchetKey ecc.PublicKey) (ChainKey, error) {
	if ck, ok := state.ReceiverChainKey(theirRatchetKey); ok {
		return ck, nil
	}

	rootKey, receiverChainKey, err := state.RootKey().CreateChain(theirRatchetKey, state.SenderRatchetKey())
	if err != nil {
		return ChainKey{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	ourNewRatchetKey, err := ecc.GenerateKeyPair(c.cfg.rand)
	if err != nil {
		return ChainKey{}, fmt.Errorf("failed to generate ratchet key: %w", err)
	}
	rootKey, senderChainKey, err := rootKey.CreateChain(theirRatchetKey, ourNewRatchetKey)
	if err != nil {
		return ChainKey{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	previousCounter := state.SenderChainKey().Index()
	if previousCounter > 0 {
		previousCounter--
	}

	state.SetRootKey(rootKey)
	state.AddReceiverChain(theirRatchetKey, receiverChainKey)
	state.SetPreviousCounter(previousCounter)
	state.SetSenderChain(ourNewRatchetKey, senderChainKey)
	return receiverChainKey, nil
}

// getOrCreateMessageKeys returns the keys for counter, caching the keys of
// every skipped message on the way.
func (c *SessionCipher) getOrCreateMessageKeys(state *SessionState, theirRatchetKey ecc.PublicKey, chainKey ChainKey, counter uint32) (MessageKeys, error) {
	if chainKey.Index() > counter {
		if mk, ok := state.RemoveMessageKeys(theirRatchetKey, counter); ok {
			return mk, nil
		}
		return MessageKeys{}, fmt.Errorf("%w: received message with old counter %d, %d", ErrDuplicateMessage, chainKey.Index(), counter)
	}

	if counter-chainKey.Index() > c.cfg.maxFutureMessages {
		return MessageKeys{}, fmt.Errorf("%w: over %d messages into the future", ErrInvalidMessage, c.cfg.maxFutureMessages)
	}

	for chainKey.Index() < counter {
		state.SetMessageKeys(theirRatchetKey, chainKey.MessageKeys())
		chainKey = chainKey.Next()
	}
	state.SetReceiverChainKey(theirRatchetKey, chainKey.Next())
	return chainKey.MessageKeys(), nil
}

// RemoteRegistrationID returns the registration id of the remote device.
func (c *SessionCipher) RemoteRegistrationID() (uint32, error) {
	state, err := c.currentState()
	if err != nil {
		return 0, err
	}
	return state.RemoteRegistrationID(), nil
}

// SessionVersion returns the protocol version of the current session.
func (c *SessionCipher) SessionVersion() (uint32, error) {
	state, err := c.currentState()
	if err != nil {
		return 0, err
	}
	return state.Version(), nil
}

func (c *SessionCipher) currentState() (*SessionState, error) {
	record, err := c.store.LoadSession(c.remote)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !record.SessionState().HasSenderChain() {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, c.remote)
	}
	return record.SessionState(), nil
}

func typeLabel(t message.Type) string {
	if t == message.PreKeyType {
		return "prekey"
	}
	return "whisper"
}
