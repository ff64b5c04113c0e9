package omemodr

import (
	"fmt"
	"sort"
	"sync"
)

// ProtocolStoreInMemory is an in-memory ProtocolStore. Session records are
// kept serialized so that every load returns an independent copy.
type ProtocolStoreInMemory struct {
	mu sync.Mutex

	identity       IdentityKeyPair
	registrationID uint32

	identities    map[string]IdentityKey
	preKeys       map[uint32]PreKeyRecord
	signedPreKeys map[uint32]SignedPreKeyRecord
	sessions      map[string]map[uint32][]byte
}

// NewProtocolStoreInMemory returns an empty store for the given local identity.
func NewProtocolStoreInMemory(identity IdentityKeyPair, registrationID uint32) *ProtocolStoreInMemory {
	return &ProtocolStoreInMemory{
		identity:       identity,
		registrationID: registrationID,
		identities:     make(map[string]IdentityKey),
		preKeys:        make(map[uint32]PreKeyRecord),
		signedPreKeys:  make(map[uint32]SignedPreKeyRecord),
		sessions:       make(map[string]map[uint32][]byte),
	}
}

func (s *ProtocolStoreInMemory) IdentityKeyPair() (IdentityKeyPair, error) {
	return s.identity, nil
}

func (s *ProtocolStoreInMemory) LocalRegistrationID() (uint32, error) {
	return s.registrationID, nil
}

func (s *ProtocolStoreInMemory) SaveIdentity(name string, key IdentityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[name] = key
	return nil
}

func (s *ProtocolStoreInMemory) IsTrustedIdentity(name string, key IdentityKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pinned, ok := s.identities[name]
	if !ok {
		return TrustOnFirstUse(nil, key), nil
	}
	return TrustOnFirstUse(&pinned, key), nil
}

func (s *ProtocolStoreInMemory) LoadPreKey(id uint32) (PreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.preKeys[id]
	if !ok {
		return PreKeyRecord{}, fmt.Errorf("%w: no pre-key %d", ErrInvalidKeyID, id)
	}
	return r, nil
}

func (s *ProtocolStoreInMemory) StorePreKey(id uint32, record PreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preKeys[id] = record
	return nil
}

func (s *ProtocolStoreInMemory) ContainsPreKey(id uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.preKeys[id]
	return ok, nil
}

func (s *ProtocolStoreInMemory) RemovePreKey(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.preKeys, id)
	return nil
}

func (s *ProtocolStoreInMemory) LoadSignedPreKey(id uint32) (SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.signedPreKeys[id]
	if !ok {
		return SignedPreKeyRecord{}, fmt.Errorf("%w: no signed pre-key %d", ErrInvalidKeyID, id)
	}
	return r, nil
}

func (s *ProtocolStoreInMemory) LoadSignedPreKeys() ([]SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]SignedPreKeyRecord, 0, len(s.signedPreKeys))
	for _, r := range s.signedPreKeys {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (s *ProtocolStoreInMemory) StoreSignedPreKey(id uint32, record SignedPreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedPreKeys[id] = record
	return nil
}

func (s *ProtocolStoreInMemory) ContainsSignedPreKey(id uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.signedPreKeys[id]
	return ok, nil
}

func (s *ProtocolStoreInMemory) RemoveSignedPreKey(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signedPreKeys, id)
	return nil
}

func (s *ProtocolStoreInMemory) LoadSession(addr Address) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.sessions[addr.Name][addr.DeviceID]
	if !ok {
		return NewSessionRecord(), nil
	}
	return LoadSessionRecord(b)
}

func (s *ProtocolStoreInMemory) StoreSession(addr Address, record *SessionRecord) error {
	b, err := record.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[addr.Name]; !ok {
		s.sessions[addr.Name] = make(map[uint32][]byte)
	}
	s.sessions[addr.Name][addr.DeviceID] = b
	return nil
}

func (s *ProtocolStoreInMemory) ContainsSession(addr Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.sessions[addr.Name][addr.DeviceID]
	if !ok {
		return false, nil
	}
	return hasEstablishedSession(b)
}

func (s *ProtocolStoreInMemory) DeleteSession(addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[addr.Name]; !ok {
		return nil
	}
	delete(s.sessions[addr.Name], addr.DeviceID)
	if len(s.sessions[addr.Name]) == 0 {
		delete(s.sessions, addr.Name)
	}
	return nil
}

func (s *ProtocolStoreInMemory) DeleteAllSessions(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, name)
	return nil
}

func (s *ProtocolStoreInMemory) SubDeviceSessions(name string) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint32, 0, len(s.sessions[name]))
	for id := range s.sessions[name] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
