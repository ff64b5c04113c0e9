// Package redisstore keeps session records and pinned peer identities in
// redis. It is combined with another store for the local identity and the
// pre-keys, which never leave the device.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stalker-loki/omemodr"
)

const (
	// sessionsKey is a hash of device id to serialized record per peer name.
	sessionsKey = "omemodr:%s:sessions:%s"
	// identitiesKey is a hash of peer name to serialized identity key.
	identitiesKey = "omemodr:%s:identities"

	defaultTimeout = 5 * time.Second
)

// SessionStore implements omemodr.SessionStore and the peer half of
// omemodr.IdentityKeyStore.
type SessionStore struct {
	client  *redis.Client
	owner   string
	timeout time.Duration
}

// New returns a store whose keys are namespaced by owner, the local account.
func New(client *redis.Client, owner string) *SessionStore {
	return &SessionStore{client: client, owner: owner, timeout: defaultTimeout}
}

// Ping checks that redis is reachable.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *SessionStore) sessions(name string) string {
	return fmt.Sprintf(sessionsKey, s.owner, name)
}

func device(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (s *SessionStore) loadSessionBytes(addr omemodr.Address) ([]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	b, err := s.client.HGet(ctx, s.sessions(addr.Name), device(addr.DeviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", addr, err)
	}
	return b, nil
}

func (s *SessionStore) LoadSession(addr omemodr.Address) (*omemodr.SessionRecord, error) {
	b, err := s.loadSessionBytes(addr)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return omemodr.NewSessionRecord(), nil
	}
	return omemodr.LoadSessionRecord(b)
}

func (s *SessionStore) StoreSession(addr omemodr.Address, record *omemodr.SessionRecord) error {
	b, err := record.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.HSet(ctx, s.sessions(addr.Name), device(addr.DeviceID), b).Err(); err != nil {
		return fmt.Errorf("failed to store session %s: %w", addr, err)
	}
	return nil
}

func (s *SessionStore) ContainsSession(addr omemodr.Address) (bool, error) {
	b, err := s.loadSessionBytes(addr)
	if err != nil || b == nil {
		return false, err
	}
	record, err := omemodr.LoadSessionRecord(b)
	if err != nil {
		return false, err
	}
	return record.SessionState().HasSenderChain(), nil
}

func (s *SessionStore) DeleteSession(addr omemodr.Address) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.HDel(ctx, s.sessions(addr.Name), device(addr.DeviceID)).Err()
}

func (s *SessionStore) DeleteAllSessions(name string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Del(ctx, s.sessions(name)).Err()
}

func (s *SessionStore) SubDeviceSessions(name string) ([]uint32, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	keys, err := s.client.HKeys(ctx, s.sessions(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions of %s: %w", name, err)
	}
	ids := make([]uint32, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad device id %q: %w", k, err)
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *SessionStore) SaveIdentity(name string, key omemodr.IdentityKey) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.HSet(ctx, fmt.Sprintf(identitiesKey, s.owner), name, key.Serialize()).Err()
}

func (s *SessionStore) IsTrustedIdentity(name string, key omemodr.IdentityKey) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	b, err := s.client.HGet(ctx, fmt.Sprintf(identitiesKey, s.owner), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return omemodr.TrustOnFirstUse(nil, key), nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load identity of %s: %w", name, err)
	}
	pinned, err := omemodr.LoadIdentityKey(b)
	if err != nil {
		return false, fmt.Errorf("failed to decode identity of %s: %w", name, err)
	}
	return omemodr.TrustOnFirstUse(&pinned, key), nil
}

// LocalStore is the part of a ProtocolStore that stays on the device.
type LocalStore interface {
	IdentityKeyPair() (omemodr.IdentityKeyPair, error)
	LocalRegistrationID() (uint32, error)
	omemodr.PreKeyStore
	omemodr.SignedPreKeyStore
}

// ProtocolStore combines a LocalStore with redis-backed sessions and
// identities.
type ProtocolStore struct {
	LocalStore
	*SessionStore
}

var _ omemodr.ProtocolStore = ProtocolStore{}

// NewProtocolStore joins local and sessions into one omemodr.ProtocolStore.
func NewProtocolStore(local LocalStore, sessions *SessionStore) ProtocolStore {
	return ProtocolStore{LocalStore: local, SessionStore: sessions}
}
