package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

const keyPrefix = "progress:"

// envelope wraps a record with its modification time, which the file backend gets
// from the filesystem.
type envelope struct {
	ModifiedAt time.Time       `json:"modifiedAt"`
	Record     json.RawMessage `json:"record"`
}

// Store keeps progress records in a Badger key-value database.
type Store struct {
	db        *badger.DB
	chunkSize int64
	now       func() time.Time
}

// Open opens (or creates) a Badger database at dir. An empty dir opens an in-memory
// database.
func Open(dir string, chunkSize int64) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return New(db, chunkSize)
}

// New wraps an already opened database. The store owns db from here on.
func New(db *badger.DB, chunkSize int64) (*Store, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	return &Store{db: db, chunkSize: chunkSize, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(id string) []byte {
	return []byte(keyPrefix + storage.Key(id))
}

func (s *Store) GetOrCreate(ctx context.Context, id, localPath string, totalSizeHint int64) (*progress.TransferProgress, error) {
	logger := logctx.LoggerFromContext(ctx)
	k := key(id)

	var raw []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}

		raw, err = item.ValueCopy(nil)

		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.Fresh(id, totalSizeHint, s.chunkSize), nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read transfer progress: %w", err)
	}

	p, err := decodeEnvelope(raw, string(k))
	if err == nil && p.ID != id {
		err = &transfer.CorruptionError{ID: p.ID, Path: string(k), Err: fmt.Errorf("record belongs to %q", p.ID)}
	}

	if err != nil {
		logger.WarnContext(ctx, "discarding corrupt transfer progress", "key", string(k), "err", err)
		s.deleteKey(ctx, k)

		return storage.Fresh(id, totalSizeHint, s.chunkSize), nil
	}

	if storage.IsStale(p, localPath) {
		logger.InfoContext(ctx, "discarding stale transfer progress", "key", string(k), "local_path", localPath)
		s.deleteKey(ctx, k)

		return storage.Fresh(id, totalSizeHint, s.chunkSize), nil
	}

	return p, nil
}

func decodeEnvelope(raw []byte, location string) (*progress.TransferProgress, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &transfer.CorruptionError{Path: location, Err: err}
	}

	return storage.Decode(env.Record, location)
}

// Save replaces the record in a single transaction.
func (s *Store) Save(_ context.Context, p *progress.TransferProgress) error {
	record, err := storage.Encode(p)
	if err != nil {
		return err
	}

	value, err := json.Marshal(envelope{ModifiedAt: s.now().UTC(), Record: record})
	if err != nil {
		return fmt.Errorf("failed to encode progress envelope: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(p.ID), value)
	}); err != nil {
		return fmt.Errorf("failed to save transfer progress: %w", err)
	}

	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	}); err != nil {
		return fmt.Errorf("failed to delete transfer progress: %w", err)
	}

	return nil
}

// Purge removes records whose envelope is older than maxAge. Undecodable envelopes are
// purged as well.
func (s *Store) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := s.now().Add(-maxAge)
	prefix := []byte(keyPrefix)

	var expired [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			err := item.Value(func(v []byte) error {
				if expiredBefore(v, cutoff) {
					expired = append(expired, item.KeyCopy(nil))
				}

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan transfer progress: %w", err)
	}

	purged := 0

	for _, k := range expired {
		ok, err := s.purgeKey(k, cutoff)
		if err != nil {
			logger.WarnContext(ctx, "failed to purge transfer progress", "key", string(k), "err", err)

			continue
		}

		if ok {
			purged++
		}
	}

	return purged, nil
}

// purgeKey deletes k only if its envelope is still older than cutoff. A record saved
// after the scan survives, and a save racing this transaction fails its commit.
func (s *Store) purgeKey(k []byte, cutoff time.Time) (bool, error) {
	deleted := false

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}

		if err != nil {
			return err
		}

		var expired bool
		if err := item.Value(func(v []byte) error {
			expired = expiredBefore(v, cutoff)

			return nil
		}); err != nil {
			return err
		}

		if !expired {
			return nil
		}

		deleted = true

		return txn.Delete(k)
	})
	if err != nil {
		return false, err
	}

	return deleted, nil
}

// expiredBefore reports whether the envelope v was modified before cutoff.
// Undecodable envelopes count as expired.
func expiredBefore(v []byte, cutoff time.Time) bool {
	var env envelope
	if err := json.Unmarshal(v, &env); err != nil {
		return true
	}

	return env.ModifiedAt.Before(cutoff)
}

func (s *Store) deleteKey(ctx context.Context, k []byte) {
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(k) }); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove transfer progress", "key", string(k), "err", err)
	}
}
