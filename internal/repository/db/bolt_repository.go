package db

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

var poolVersionsBucket = []byte("pool_versions")

// BoltVersionRepository keeps pool versions in a local bbolt file.
type BoltVersionRepository struct {
	db *bbolt.DB
}

// NewBoltVersionRepository opens (or creates) the database at path with 0o600
// rights.
func NewBoltVersionRepository(path string) (*BoltVersionRepository, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt at %s: %w", path, err)
	}
	return &BoltVersionRepository{db: db}, nil
}

func (r *BoltVersionRepository) LoadVersion(_ context.Context, pool string) (uint64, error) {
	var version uint64
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		version, err = readVersion(tx.Bucket(poolVersionsBucket), pool)
		return err
	})
	return version, err
}

func (r *BoltVersionRepository) SaveVersion(_ context.Context, pool string, version uint64) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(poolVersionsBucket)
		if err != nil {
			return fmt.Errorf("can't create %s bucket: %w", poolVersionsBucket, err)
		}

		current, err := readVersion(b, pool)
		if err != nil {
			return err
		}
		if version <= current {
			return &zerrors.StaleVersionError{Pool: pool, Current: current, Proposed: version}
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, version)
		return b.Put([]byte(pool), buf)
	})
}

func (r *BoltVersionRepository) ListVersions(_ context.Context) (map[string]uint64, error) {
	out := make(map[string]uint64)
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(poolVersionsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("unexpected byte len %d for pool %s", len(v), k)
			}
			out[string(k)] = binary.BigEndian.Uint64(v)
			return nil
		})
	})
	return out, err
}

// Close closes the underlying database.
func (r *BoltVersionRepository) Close() error {
	return r.db.Close()
}

func readVersion(b *bbolt.Bucket, pool string) (uint64, error) {
	if b == nil {
		return 0, nil
	}
	v := b.Get([]byte(pool))
	if v == nil {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("unexpected byte len: %d instead of %d", len(v), 8)
	}
	return binary.BigEndian.Uint64(v), nil
}
