package kv

import (
	"bytes"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// openTimeout is how long New waits for the file lock. A second daemon using
// the same config folder fails instead of hanging.
const openTimeout = time.Second

// boltDB is an adapter of the KV store using bboltdb.
//
// - implements kv.DB
type boltDB struct {
	bolt *bbolt.DB
}

// New opens the database file at the given path, or creates it.
func New(path string) (DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	bdb := boltDB{
		bolt: db,
	}

	return bdb, nil
}

// View implements kv.DB. It opens a read-only transaction and opens the
// provided bucket. It will return an error if the bucket does not exist.
func (db boltDB) View(bucket []byte, fn func(Bucket) error) error {
	return db.bolt.View(func(txn *bbolt.Tx) error {
		b := txn.Bucket(bucket)
		if b == nil {
			return xerrors.Errorf("bucket '%x' not found", bucket)
		}

		return fn(boltBucket{bucket: b})
	})
}

// Update implements kv.DB. It opens a read-write transaction and opens the
// bucket. It will create it if it does not exist yet.
func (db boltDB) Update(bucket []byte, fn func(Bucket) error) error {
	return db.bolt.Update(func(txn *bbolt.Tx) error {
		b, err := txn.CreateBucketIfNotExists(bucket)
		if err != nil {
			return xerrors.Errorf("failed to create bucket: %v", err)
		}

		return fn(boltBucket{bucket: b})
	})
}

// DeleteBucket implements kv.DB. It deletes the bucket if it exists.
func (db boltDB) DeleteBucket(bucket []byte) error {
	return db.bolt.Update(func(txn *bbolt.Tx) error {
		err := txn.DeleteBucket(bucket)
		if err != nil && err != bbolt.ErrBucketNotFound {
			return xerrors.Errorf("failed to delete bucket: %v", err)
		}

		return nil
	})
}

// Close implements kv.DB. It closes the database. Any view or update call will
// result in an error after this function is called.
func (db boltDB) Close() error {
	return db.bolt.Close()
}

// boltBucket is the adapter of a bbolt bucket to the kv.Bucket interface.
//
// - implements kv.Bucket
type boltBucket struct {
	bucket *bbolt.Bucket
}

// Get implements kv.Bucket. It returns the value associated to the key. The
// slice is copied as bbolt only guarantees it during the transaction.
func (txn boltBucket) Get(key []byte) []byte {
	value := txn.bucket.Get(key)
	if value == nil {
		return nil
	}

	return append([]byte{}, value...)
}

// Set implements kv.Bucket. It sets the provided key to the value.
func (txn boltBucket) Set(key, value []byte) error {
	return txn.bucket.Put(key, value)
}

// Delete implements kv.Bucket. It deletes the key from the bucket.
func (txn boltBucket) Delete(key []byte) error {
	return txn.bucket.Delete(key)
}

// Scan implements kv.Bucket. It iterates over the keys matching the prefix in
// lexicographic order.
func (txn boltBucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	cursor := txn.bucket.Cursor()

	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		err := fn(k, v)
		if err != nil {
			return xerrors.Errorf("callback failed: %v", err)
		}
	}

	return nil
}
