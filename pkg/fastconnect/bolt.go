package fastconnect

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	boltBucket = []byte("fastconnect")
	boltKey    = []byte("tokens")
)

type boltRecord struct {
	db *bolt.DB
}

func (r *boltRecord) load() ([]byte, error) {
	var data []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		if value := bucket.Get(boltKey); value != nil {
			data = append([]byte{}, value...)
		}
		return nil
	})
	return data, err
}

func (r *boltRecord) store(data []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket, createErr := tx.CreateBucketIfNotExists(boltBucket)
		if createErr != nil {
			return createErr
		}
		return bucket.Put(boltKey, data)
	})
}

func (r *boltRecord) close() error {
	return r.db.Close()
}

// NewBoltStore creates a Store backed by a bolt database at path
func NewBoltStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &recordStore{record: &boltRecord{db: db}}, nil
}
