package connector

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var checkpointBucket = []byte("checkpoints")

// CheckpointStore durably persists a connector's read cursor across
// restarts. bbolt's transactional commit already gives the atomicity the
// teacher's temp-file+fsync+rename dance exists to provide, so it replaces
// that pattern outright rather than reimplementing it on top of a plain
// file.
type CheckpointStore struct {
	db *bbolt.DB
}

// OpenCheckpointStore opens (creating if absent) the bbolt file at path.
func OpenCheckpointStore(path string) (*CheckpointStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint bucket: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

// Close releases the bbolt file handle.
func (c *CheckpointStore) Close() error { return c.db.Close() }

// Load returns the last committed cursor for key, or "" if none exists yet.
func (c *CheckpointStore) Load(key string) (string, error) {
	var cursor string
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(checkpointBucket).Get([]byte(key))
		cursor = string(v)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("load checkpoint: %w", err)
	}
	return cursor, nil
}

// Commit durably advances the cursor for key. Callers must only call Commit
// after the Switchboard has accepted (or duplicate-accepted) the envelope
// whose read produced this cursor — advancing earlier risks skipping an
// unacknowledged envelope on restart (spec.md §4.2).
func (c *CheckpointStore) Commit(key, cursor string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(checkpointBucket).Put([]byte(key), []byte(cursor))
	})
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}
