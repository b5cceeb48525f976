// Package store persists non-volatile attribute values in BoltDB so the
// device comes back in its previous state after a restart.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/matter-gpio/internal/node"
)

// ErrNotFound is returned when a key has no stored record.
var ErrNotFound = errors.New("not found")

var (
	bucketAttributes = []byte("attributes")
	bucketMeta       = []byte("meta")
	keyBootCount     = []byte("boot_count")
)

// record is the on-disk form of one attribute value.
type record struct {
	Value     node.Value `json:"value"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// BoltStore implements node.Storage using BoltDB.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAttributes, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func attributeKey(path node.AttributePath) []byte {
	return []byte(path.String())
}

// LoadAttribute implements node.Storage.
func (s *BoltStore) LoadAttribute(path node.AttributePath) (node.Value, bool, error) {
	rec, err := s.record(path)
	if errors.Is(err, ErrNotFound) {
		return node.Invalid(), false, nil
	}
	if err != nil {
		return node.Invalid(), false, err
	}
	return rec.Value, true, nil
}

// SaveAttribute implements node.Storage.
func (s *BoltStore) SaveAttribute(path node.AttributePath, v node.Value) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		data, err := json.Marshal(record{Value: v, UpdatedAt: s.now().UTC()})
		if err != nil {
			return err
		}
		return b.Put(attributeKey(path), data)
	})
}

// UpdatedAt returns when the attribute was last persisted.
func (s *BoltStore) UpdatedAt(path node.AttributePath) (time.Time, error) {
	rec, err := s.record(path)
	if err != nil {
		return time.Time{}, err
	}
	return rec.UpdatedAt, nil
}

func (s *BoltStore) record(path node.AttributePath) (*record, error) {
	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		data := b.Get(attributeKey(path))
		if data == nil {
			return fmt.Errorf("attribute %s: %w", path, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Count returns the number of persisted attributes.
func (s *BoltStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// IncrementBootCount bumps and returns the persisted boot counter.
func (s *BoltStore) IncrementBootCount() (uint64, error) {
	var count uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketMeta)
		}
		if data := b.Get(keyBootCount); data != nil {
			if err := json.Unmarshal(data, &count); err != nil {
				return err
			}
		}
		count++
		data, err := json.Marshal(count)
		if err != nil {
			return err
		}
		return b.Put(keyBootCount, data)
	})
	return count, err
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
