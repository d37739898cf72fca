package convstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("liff_chat")

// BoltBackend persists values in a local bbolt file. MaxBytes, when positive, caps the
// size of a single value and makes oversized writes fail with ErrQuotaExceeded.
type BoltBackend struct {
	db       *bolt.DB
	path     string
	MaxBytes int
}

// OpenBoltBackend opens (or creates) the bbolt file at path
func OpenBoltBackend(path string, maxBytes int) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("error creating store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating bucket: %w", err)
	}

	return &BoltBackend{db: db, path: path, MaxBytes: maxBytes}, nil
}

func (b *BoltBackend) Name() string {
	return "bolt"
}

func (b *BoltBackend) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(boltBucket)
		if bk == nil {
			return ErrNotFound
		}
		v := bk.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bolt values are only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltBackend) Set(_ context.Context, key string, value []byte) error {
	if b.MaxBytes > 0 && len(value) > b.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrQuotaExceeded, len(value), b.MaxBytes)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), value)
	})
}

func (b *BoltBackend) Remove(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(boltBucket)
		if bk == nil {
			return nil
		}
		return bk.Delete([]byte(key))
	})
}

// Close releases the file lock
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
