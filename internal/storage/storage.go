package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/italolelis/resumable_transfer/internal/hasher"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

// ProgressFileSuffix names persisted progress records: "<md5(identity)><suffix>".
const ProgressFileSuffix = ".transfer-progress.json"

// ProgressStore persists one TransferProgress per transfer identity.
type ProgressStore interface {
	// GetOrCreate loads the record for id. Stale records (localPath no longer exists)
	// and corrupt records are discarded and replaced by a fresh NotStarted record.
	GetOrCreate(ctx context.Context, id, localPath string, totalSizeHint int64) (*progress.TransferProgress, error)
	// Save writes the full record. Readers never observe a partial write.
	Save(ctx context.Context, p *progress.TransferProgress) error
	// Delete removes the record for id, if any.
	Delete(ctx context.Context, id string) error
	// Purge removes records last modified before now-maxAge and returns how many were removed.
	Purge(ctx context.Context, maxAge time.Duration) (int, error)
}

// Key derives the storage key of a transfer identity.
func Key(id string) string {
	key, _ := hasher.DigestString(hasher.MD5, id)

	return key
}

// Encode serializes a record for persistence.
func Encode(p *progress.TransferProgress) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer progress: %w", err)
	}

	return data, nil
}

// Decode parses and validates a persisted record. Any failure is a CorruptionError.
func Decode(data []byte, location string) (*progress.TransferProgress, error) {
	var p progress.TransferProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &transfer.CorruptionError{Path: location, Err: err}
	}

	p.Normalize()

	if err := p.Validate(); err != nil {
		return nil, &transfer.CorruptionError{ID: p.ID, Path: location, Err: err}
	}

	return &p, nil
}

// IsStale reports whether a loaded record refers to a local file that no longer exists.
// Records that never made progress are not considered stale.
func IsStale(p *progress.TransferProgress, localPath string) bool {
	if localPath == "" || (p.ProcessedSize == 0 && !p.IsCompleted()) {
		return false
	}

	_, err := os.Stat(localPath)

	return errors.Is(err, fs.ErrNotExist)
}

// Fresh returns a new record for id with the given total and chunk size.
func Fresh(id string, totalSizeHint, chunkSize int64) *progress.TransferProgress {
	return progress.New(id, max(totalSizeHint, 0), chunkSize)
}
