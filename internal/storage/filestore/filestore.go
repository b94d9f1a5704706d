package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	tempPattern = ".*.tmp"
)

// Store keeps one JSON file per transfer in a directory.
type Store struct {
	dir       string
	chunkSize int64
}

// New creates the progress directory if needed. chunkSize is assigned to new records.
func New(dir string, chunkSize int64) (*Store, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}

	return &Store{dir: dir, chunkSize: chunkSize}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Path is the record file for id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, storage.Key(id)+storage.ProgressFileSuffix)
}

func (s *Store) GetOrCreate(ctx context.Context, id, localPath string, totalSizeHint int64) (*progress.TransferProgress, error) {
	logger := logctx.LoggerFromContext(ctx)
	path := s.Path(id)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.Fresh(id, totalSizeHint, s.chunkSize), nil
		}

		return nil, fmt.Errorf("failed to read transfer progress: %w", err)
	}

	p, err := storage.Decode(data, path)
	if err == nil && p.ID != id {
		err = &transfer.CorruptionError{ID: p.ID, Path: path, Err: fmt.Errorf("record belongs to %q", p.ID)}
	}

	if err != nil {
		logger.WarnContext(ctx, "discarding corrupt transfer progress", "path", path, "err", err)
		s.remove(ctx, path)

		return storage.Fresh(id, totalSizeHint, s.chunkSize), nil
	}

	if storage.IsStale(p, localPath) {
		logger.InfoContext(ctx, "discarding stale transfer progress", "path", path, "local_path", localPath)
		s.remove(ctx, path)

		return storage.Fresh(id, totalSizeHint, s.chunkSize), nil
	}

	return p, nil
}

// Save writes the record to a temp file in the same directory, syncs it and renames it
// over the previous version.
func (s *Store) Save(_ context.Context, p *progress.TransferProgress) error {
	data, err := storage.Encode(p)
	if err != nil {
		return err
	}

	key := storage.Key(p.ID)

	tmp, err := os.CreateTemp(s.dir, key+tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp progress file: %w", err)
	}

	tmpPath := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("failed to write transfer progress: %w", err)
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("failed to set progress file mode: %w", err)
	}

	if err := os.Rename(tmpPath, s.Path(p.ID)); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("failed to replace transfer progress: %w", err)
	}

	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()

		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}

func (s *Store) Delete(_ context.Context, id string) error {
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete transfer progress: %w", err)
	}

	return nil
}

// Purge removes progress records and leftover temp files older than maxAge. Files that
// cannot be removed are logged and skipped.
func (s *Store) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read progress directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	purged := 0

	for _, entry := range entries {
		if entry.IsDir() || !isProgressFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.WarnContext(ctx, "failed to stat progress file", "name", entry.Name(), "err", err)

			continue
		}

		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.WarnContext(ctx, "failed to purge progress file", "path", path, "err", err)
			}

			continue
		}

		purged++
	}

	return purged, nil
}

func isProgressFile(name string) bool {
	if strings.HasSuffix(name, storage.ProgressFileSuffix) {
		return true
	}

	// leftovers of an interrupted Save
	return strings.HasSuffix(name, ".tmp") && strings.Count(name, ".") >= 2
}

func (s *Store) remove(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove transfer progress", "path", path, "err", err)
	}
}
