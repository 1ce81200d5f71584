// Package kv defines a bolt-db, key-value store implementation of the
// coordinator Database interface.
package kv

import (
	"context"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/iface"
	bolt "go.etcd.io/bbolt"
)

const databaseFileName = "coordinator.db"

var _ iface.Database = (*Store)(nil)

// Store defines an implementation of the coordinator Database interface
// using BoltDB as the underlying persistent kv-store.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewKVStore initializes a new boltDB key-value store at the directory path
// specified, creates the kv-buckets based on the schema, and stores an open
// connection db object as a property of the Store struct.
func NewKVStore(_ context.Context, dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second, InitialMmapSize: 10e6})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	kv := &Store{
		db:           boltDB,
		databasePath: dirPath,
	}
	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			ceremoniesBucket,
			circuitsBucket,
			participantsBucket,
			contributionsBucket,
		)
	}); err != nil {
		return nil, err
	}
	return kv, nil
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, b := range buckets {
		if _, err := tx.CreateBucketIfNotExists(b); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

// ClearDB removes the previously stored database in the data directory.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(path.Join(s.databasePath, databaseFileName))
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

// storeTx binds every read and mutator to a single bolt transaction. Bolt
// admits one writer at a time, so two concurrent transactions touching the
// same circuit row are serialized.
type storeTx struct {
	tx *bolt.Tx
}

var _ iface.Tx = (*storeTx)(nil)

// WithTransaction runs fn within one writable transaction. On failure of fn
// all writes are rolled back and the error bubbles to the caller unchanged.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx iface.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&storeTx{tx: tx})
	})
}

// view runs fn in a read-only transaction.
func (s *Store) view(fn func(tx *storeTx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&storeTx{tx: tx})
	})
}

// update runs fn in a writable transaction.
func (s *Store) update(fn func(tx *storeTx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&storeTx{tx: tx})
	})
}
