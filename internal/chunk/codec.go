package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// DefaultBufferSize is the I/O buffer used when copying chunk data.
	DefaultBufferSize = 81920

	mergeTempSuffix = ".merging"
)

// Descriptor identifies one chunk written by Split.
type Descriptor struct {
	Index  int
	Path   string
	Offset int64
	Size   int64
}

// Codec splits files into fixed-size chunks and reassembles them. Work is strictly
// sequential by index.
type Codec struct {
	chunkSize  int64
	bufferSize int
	onProgress progress.ProcessFunc
}

type Option func(*Codec)

// WithBufferSize sets the copy buffer size.
func WithBufferSize(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithProgress registers a callback invoked after every chunk is split or merged.
func WithProgress(fn progress.ProcessFunc) Option {
	return func(c *Codec) {
		c.onProgress = fn
	}
}

// NewCodec returns a codec producing chunks of chunkSize bytes. Callers that take the
// size from user configuration should pass it through ClampChunkSize first.
func NewCodec(chunkSize int64, opts ...Option) (*Codec, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	c := &Codec{
		chunkSize:  chunkSize,
		bufferSize: DefaultBufferSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Codec) ChunkSize() int64 {
	return c.chunkSize
}

// Split writes sourcePath into targetDir as ceil(size/chunkSize) chunk files named
// "<base>.chunk-<index>". The last chunk holds the remainder.
func (c *Codec) Split(ctx context.Context, sourcePath, targetDir string) ([]Descriptor, error) {
	logger := logctx.LoggerFromContext(ctx)

	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &transfer.NotFoundError{Path: sourcePath, Err: err}
		}

		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", sourcePath)
	}

	if err := os.MkdirAll(targetDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	total := info.Size()
	count := int((total + c.chunkSize - 1) / c.chunkSize)
	base := BaseName(sourcePath)
	buf := make([]byte, c.bufferSize)
	descriptors := make([]Descriptor, 0, count)

	logger.Debug("splitting file",
		"source", sourcePath,
		"size", humanize.Bytes(uint64(total)),
		"chunk_size", humanize.Bytes(uint64(c.chunkSize)),
		"chunks", count,
	)

	var offset int64

	for i := 0; i < count; i++ {
		if err := transfer.Cancelled(ctx, "split"); err != nil {
			return nil, err
		}

		size := min(c.chunkSize, total-offset)
		path := filepath.Join(targetDir, Name(base, i))

		if err := writeChunk(path, io.LimitReader(src, size), size, buf); err != nil {
			return nil, fmt.Errorf("failed to write chunk %d: %w", i, err)
		}

		descriptors = append(descriptors, Descriptor{Index: i, Path: path, Offset: offset, Size: size})
		offset += size

		c.report(offset, total, "splitting")
	}

	return descriptors, nil
}

func writeChunk(path string, r io.Reader, size int64, buf []byte) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}

	n, err := io.CopyBuffer(out, r, buf)
	if err != nil {
		out.Close()

		return err
	}

	if n != size {
		out.Close()

		return fmt.Errorf("short chunk: wrote %d of %d bytes: %w", n, size, io.ErrUnexpectedEOF)
	}

	return out.Close()
}

// Merge concatenates the chunks in chunkDir into targetPath in ascending index order.
// Files outside the naming convention or with an index outside [0,totalChunks) are
// ignored. The target is written to a sibling temp file and renamed into place, so an
// interrupted merge never leaves a partial target.
func (c *Codec) Merge(ctx context.Context, chunkDir, targetPath string, totalChunks int) error {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(chunkDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &transfer.NotFoundError{Path: chunkDir, Err: err}
		}

		return fmt.Errorf("failed to read chunk directory: %w", err)
	}

	paths := make(map[int]string, totalChunks)

	var total int64

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		index, ok := ParseIndex(entry.Name())
		if !ok || index < 0 || index >= totalChunks {
			continue
		}

		if _, dup := paths[index]; dup {
			return &transfer.IncompleteDataError{
				ChunkDir: chunkDir,
				Expected: totalChunks,
				Actual:   len(paths),
				Reason:   fmt.Sprintf("duplicate chunk index %d", index),
			}
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat chunk %s: %w", entry.Name(), err)
		}

		paths[index] = filepath.Join(chunkDir, entry.Name())
		total += info.Size()
	}

	if len(paths) != totalChunks {
		return &transfer.IncompleteDataError{ChunkDir: chunkDir, Expected: totalChunks, Actual: len(paths)}
	}

	indexes := make([]int, 0, len(paths))
	for i := range paths {
		indexes = append(indexes, i)
	}

	slices.Sort(indexes)

	if err := os.MkdirAll(filepath.Dir(targetPath), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	tmpPath := targetPath + mergeTempSuffix

	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		out.Close()

		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to remove partial merge output", "path", tmpPath, "err", err)
		}
	}()

	logger.Debug("merging chunks", "chunk_dir", chunkDir, "target", targetPath, "chunks", totalChunks)

	buf := make([]byte, c.bufferSize)

	var processed int64

	for _, i := range indexes {
		if err := transfer.Cancelled(ctx, "merge"); err != nil {
			return err
		}

		n, err := appendChunk(out, paths[i], buf)
		if err != nil {
			return fmt.Errorf("failed to append chunk %d: %w", i, err)
		}

		processed += n
		c.report(processed, total, "merging")
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync target file: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close target file: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		return fmt.Errorf("failed to move merged file into place: %w", err)
	}

	committed = true

	return nil
}

func appendChunk(out io.Writer, path string, buf []byte) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	return io.CopyBuffer(out, in, buf)
}

// Clean removes the chunk files in chunkDir and the directory itself once empty.
// Failures are logged and skipped. It returns the number of chunk files removed.
func Clean(ctx context.Context, chunkDir string) int {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(chunkDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to read chunk directory", "dir", chunkDir, "err", err)
		}

		return 0
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if _, ok := ParseIndex(entry.Name()); !ok {
			continue
		}

		path := filepath.Join(chunkDir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to remove chunk file", "path", path, "err", err)

			continue
		}

		removed++
	}

	remaining, err := os.ReadDir(chunkDir)
	if err == nil && len(remaining) == 0 {
		if err := os.Remove(chunkDir); err != nil {
			logger.Warn("failed to remove chunk directory", "dir", chunkDir, "err", err)
		}
	}

	return removed
}

func (c *Codec) report(processed, total int64, desc string) {
	if c.onProgress == nil {
		return
	}

	c.onProgress(progress.Process{ProcessedSize: processed, TotalSize: total, StatusDescription: desc})
}
