package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

const (
	boltRootBucket = "archive"
)

// BoltArchive stores build logs inside a BoltDB file, one bucket per namespace.
type BoltArchive struct {
	db   *bolt.DB
	once sync.Once
}

// NewBoltArchive opens (or creates) a BoltDB archive at the provided path.
func NewBoltArchive(path string) (*BoltArchive, error) {
	if path == "" {
		return nil, invalidArgument("archive path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, internalError("create archive directory", err)
		}
	}

	db, err := bolt.Open(cleaned, 0o600, nil)
	if err != nil {
		return nil, internalError("open bolt archive", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltRootBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, internalError("init bolt archive", err)
	}

	return &BoltArchive{db: db}, nil
}

// Store writes data under namespace/key, replacing any previous payload.
func (a *BoltArchive) Store(ctx context.Context, namespace, key string, data []byte) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		root := tx.Bucket([]byte(boltRootBucket))
		if root == nil {
			return errors.New("archive root bucket missing")
		}

		bucket, err := root.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}

		return bucket.Put([]byte(key), data)
	})
}

// Fetch retrieves data for namespace/key.
func (a *BoltArchive) Fetch(ctx context.Context, namespace, key string) ([]byte, error) {
	var result []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		root := tx.Bucket([]byte(boltRootBucket))
		if root == nil {
			return archiveMiss(namespace, key)
		}

		bucket := root.Bucket([]byte(namespace))
		if bucket == nil {
			return archiveMiss(namespace, key)
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return archiveMiss(namespace, key)
		}

		// bolt memory is only valid inside the transaction
		result = append([]byte{}, data...)
		return nil
	})
	return result, err
}

// Remove deletes data for namespace/key. Missing entries are ignored.
func (a *BoltArchive) Remove(ctx context.Context, namespace, key string) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		root := tx.Bucket([]byte(boltRootBucket))
		if root == nil {
			return nil
		}
		bucket := root.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// Close shuts down the Bolt DB.
func (a *BoltArchive) Close() error {
	var err error
	a.once.Do(func() {
		err = a.db.Close()
	})
	return err
}
