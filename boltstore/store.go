// Package boltstore is an omemodr.ProtocolStore kept in a bbolt database
// file, so that identities, pre-keys and sessions survive restarts.
package boltstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stalker-loki/omemodr"
)

var (
	bucketMeta          = []byte("meta")
	bucketIdentities    = []byte("identities")
	bucketPreKeys       = []byte("prekeys")
	bucketSignedPreKeys = []byte("signedprekeys")
	// bucketSessions holds one nested bucket per peer name, keyed by device id.
	bucketSessions = []byte("sessions")

	keyIdentity       = []byte("identity")
	keyRegistrationID = []byte("registration_id")
)

// ErrNoIdentity is returned when the local identity was never stored.
var ErrNoIdentity = errors.New("boltstore: no local identity")

// Store implements omemodr.ProtocolStore. Every call runs in its own bbolt
// transaction.
type Store struct {
	db *bolt.DB
}

var _ omemodr.ProtocolStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketIdentities, bucketPreKeys, bucketSignedPreKeys, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func itob(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// get copies the value out of the transaction, nil if missing.
func (s *Store) get(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *Store) put(bucket, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
}

func (s *Store) delete(bucket, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
}

// HasLocalIdentity reports whether SetLocalIdentity was called.
func (s *Store) HasLocalIdentity() (bool, error) {
	b, err := s.get(bucketMeta, keyIdentity)
	return b != nil, err
}

// SetLocalIdentity stores the device identity and registration id.
func (s *Store) SetLocalIdentity(identity omemodr.IdentityKeyPair, registrationID uint32) error {
	b, err := identity.Serialize()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyIdentity, b); err != nil {
			return err
		}
		return meta.Put(keyRegistrationID, itob(registrationID))
	})
}

func (s *Store) IdentityKeyPair() (omemodr.IdentityKeyPair, error) {
	b, err := s.get(bucketMeta, keyIdentity)
	if err != nil {
		return omemodr.IdentityKeyPair{}, err
	}
	if b == nil {
		return omemodr.IdentityKeyPair{}, ErrNoIdentity
	}
	return omemodr.LoadIdentityKeyPair(b)
}

func (s *Store) LocalRegistrationID() (uint32, error) {
	b, err := s.get(bucketMeta, keyRegistrationID)
	if err != nil {
		return 0, err
	}
	if len(b) != 4 {
		return 0, ErrNoIdentity
	}
	return binary.BigEndian.Uint32(b), nil
}

func (s *Store) SaveIdentity(name string, key omemodr.IdentityKey) error {
	return s.put(bucketIdentities, []byte(name), key.Serialize())
}

func (s *Store) IsTrustedIdentity(name string, key omemodr.IdentityKey) (bool, error) {
	b, err := s.get(bucketIdentities, []byte(name))
	if err != nil {
		return false, err
	}
	if b == nil {
		return omemodr.TrustOnFirstUse(nil, key), nil
	}
	pinned, err := omemodr.LoadIdentityKey(b)
	if err != nil {
		return false, fmt.Errorf("failed to decode identity of %s: %w", name, err)
	}
	return omemodr.TrustOnFirstUse(&pinned, key), nil
}

func (s *Store) LoadPreKey(id uint32) (omemodr.PreKeyRecord, error) {
	b, err := s.get(bucketPreKeys, itob(id))
	if err != nil {
		return omemodr.PreKeyRecord{}, err
	}
	if b == nil {
		return omemodr.PreKeyRecord{}, fmt.Errorf("%w: no pre-key %d", omemodr.ErrInvalidKeyID, id)
	}
	return omemodr.LoadPreKeyRecord(b)
}

func (s *Store) StorePreKey(id uint32, record omemodr.PreKeyRecord) error {
	b, err := record.Serialize()
	if err != nil {
		return err
	}
	return s.put(bucketPreKeys, itob(id), b)
}

func (s *Store) ContainsPreKey(id uint32) (bool, error) {
	b, err := s.get(bucketPreKeys, itob(id))
	return b != nil, err
}

func (s *Store) RemovePreKey(id uint32) error {
	return s.delete(bucketPreKeys, itob(id))
}

// PreKeyCount returns how many one-time pre-keys are left.
func (s *Store) PreKeyCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketPreKeys).Stats().KeyN
		return nil
	})
	return n, err
}

// MaxPreKeyID returns the highest stored one-time pre-key id, 0 if none.
func (s *Store) MaxPreKeyID() (uint32, error) {
	var id uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket(bucketPreKeys).Cursor().Last(); k != nil {
			id = binary.BigEndian.Uint32(k)
		}
		return nil
	})
	return id, err
}

// PreKeyIDs lists the stored one-time pre-key ids in ascending order.
func (s *Store) PreKeyIDs() ([]uint32, error) {
	var ids []uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPreKeys).ForEach(func(k, _ []byte) error {
			ids = append(ids, binary.BigEndian.Uint32(k))
			return nil
		})
	})
	return ids, err
}

func (s *Store) LoadSignedPreKey(id uint32) (omemodr.SignedPreKeyRecord, error) {
	b, err := s.get(bucketSignedPreKeys, itob(id))
	if err != nil {
		return omemodr.SignedPreKeyRecord{}, err
	}
	if b == nil {
		return omemodr.SignedPreKeyRecord{}, fmt.Errorf("%w: no signed pre-key %d", omemodr.ErrInvalidKeyID, id)
	}
	return omemodr.LoadSignedPreKeyRecord(b)
}

func (s *Store) LoadSignedPreKeys() ([]omemodr.SignedPreKeyRecord, error) {
	var records []omemodr.SignedPreKeyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSignedPreKeys).ForEach(func(_, v []byte) error {
			r, err := omemodr.LoadSignedPreKeyRecord(v)
			if err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

func (s *Store) StoreSignedPreKey(id uint32, record omemodr.SignedPreKeyRecord) error {
	b, err := record.Serialize()
	if err != nil {
		return err
	}
	return s.put(bucketSignedPreKeys, itob(id), b)
}

func (s *Store) ContainsSignedPreKey(id uint32) (bool, error) {
	b, err := s.get(bucketSignedPreKeys, itob(id))
	return b != nil, err
}

func (s *Store) RemoveSignedPreKey(id uint32) error {
	return s.delete(bucketSignedPreKeys, itob(id))
}

func (s *Store) loadSessionBytes(addr omemodr.Address) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		peer := tx.Bucket(bucketSessions).Bucket([]byte(addr.Name))
		if peer == nil {
			return nil
		}
		if v := peer.Get(itob(addr.DeviceID)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *Store) LoadSession(addr omemodr.Address) (*omemodr.SessionRecord, error) {
	b, err := s.loadSessionBytes(addr)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return omemodr.NewSessionRecord(), nil
	}
	return omemodr.LoadSessionRecord(b)
}

func (s *Store) StoreSession(addr omemodr.Address, record *omemodr.SessionRecord) error {
	b, err := record.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		peer, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(addr.Name))
		if err != nil {
			return err
		}
		return peer.Put(itob(addr.DeviceID), b)
	})
}

func (s *Store) ContainsSession(addr omemodr.Address) (bool, error) {
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

func (s *Store) DeleteSession(addr omemodr.Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		peer := tx.Bucket(bucketSessions).Bucket([]byte(addr.Name))
		if peer == nil {
			return nil
		}
		return peer.Delete(itob(addr.DeviceID))
	})
}

func (s *Store) DeleteAllSessions(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketSessions).DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (s *Store) SubDeviceSessions(name string) ([]uint32, error) {
	var ids []uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		peer := tx.Bucket(bucketSessions).Bucket([]byte(name))
		if peer == nil {
			return nil
		}
		return peer.ForEach(func(k, _ []byte) error {
			ids = append(ids, binary.BigEndian.Uint32(k))
			return nil
		})
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, err
}

// Peers lists the names with at least one stored session.
func (s *Store) Peers() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEachBucket(func(k []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
