package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	defaultBucket = "threadchat"
	openTimeout   = 1 * time.Second
)

type BoltStore struct {
	db        *bolt.DB
	logger    *zap.Logger
	closeOnce sync.Once
}

func OpenBolt(path string, logger *zap.Logger) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	_, err := os.Stat(path)
	isFirstTime := os.IsNotExist(err)

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: openTimeout,
	})
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to open database: %w", err))
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(defaultBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	store := &BoltStore{
		db:     db,
		logger: logger.With(zap.String("backend", "bolt"), zap.String("path", path)),
	}

	if isFirstTime {
		err = store.initStorage()
	} else {
		err = store.checkSchema()
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store.logger.Info("Thread store opened", zap.Bool("created", isFirstTime))
	return store, nil
}

func (s *BoltStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

func (s *BoltStore) get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		v := bucket.Get(key)
		if v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	return value, err
}

func (s *BoltStore) put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		return bucket.Put(key, value)
	})
}

// update runs fn against the bucket inside a single read-write transaction.
// bbolt allows one writer at a time, which serializes appends per thread.
func (s *BoltStore) update(ctx context.Context, fn func(bucket *bolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		return fn(bucket)
	})
}

func (s *BoltStore) view(ctx context.Context, fn func(bucket *bolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		return fn(bucket)
	})
}

func (s *BoltStore) list(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return s.view(ctx, func(bucket *bolt.Bucket) error {
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
