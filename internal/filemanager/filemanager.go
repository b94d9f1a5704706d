package filemanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/italolelis/resumable_transfer/internal/chunk"
	"github.com/italolelis/resumable_transfer/internal/cleanup"
	"github.com/italolelis/resumable_transfer/internal/hasher"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/orchestrator"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	ownerWrite = 0o200
)

// ErrTargetExists is returned when a copy or move would replace an existing file
// without overwrite being requested.
var ErrTargetExists = errors.New("target file already exists")

// ErrSameFile is returned when a copy or move names the same file as source and target.
var ErrSameFile = errors.New("source and target are the same file")

// Manager is the single entry point for plain file operations, large file
// split/merge, digests and resumable transfers.
type Manager struct {
	codec        *chunk.Codec
	hasher       *hasher.Hasher
	orchestrator *orchestrator.Orchestrator
	cleaner      *cleanup.Cleaner
	bufferSize   int
}

func New(codec *chunk.Codec, h *hasher.Hasher, o *orchestrator.Orchestrator, c *cleanup.Cleaner, bufferSize int) *Manager {
	if bufferSize <= 0 {
		bufferSize = chunk.DefaultBufferSize
	}

	return &Manager{
		codec:        codec,
		hasher:       h,
		orchestrator: o,
		cleaner:      c,
		bufferSize:   bufferSize,
	}
}

// CreateFile writes content to path, creating parent directories and replacing any
// existing file.
func (m *Manager) CreateFile(_ context.Context, path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if err := os.WriteFile(path, content, filePerm); err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	return nil
}

func (m *Manager) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, notFound(path, err)
	}

	return data, nil
}

// CopyFile copies src to dst in bufferSize blocks, checking ctx between blocks. The copy
// is written next to dst and renamed over it, so a failed copy leaves dst untouched.
func (m *Manager) CopyFile(ctx context.Context, src, dst string, overwrite bool) error {
	in, err := os.Open(src)
	if err != nil {
		return notFound(src, err)
	}
	defer in.Close()

	if err := checkSameFile(src, dst); err != nil {
		return err
	}

	if err := checkTarget(dst, overwrite); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}

	tmpPath := out.Name()

	if err := m.copyInto(ctx, out, in); err != nil {
		out.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := out.Close(); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("failed to write target file: %w", err)
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("failed to set target file mode: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("failed to replace target file: %w", err)
	}

	return nil
}

func (m *Manager) copyInto(ctx context.Context, out io.Writer, in io.Reader) error {
	buf := make([]byte, m.bufferSize)

	for {
		if err := transfer.Cancelled(ctx, "copy"); err != nil {
			return err
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write target file: %w", err)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}

		if readErr != nil {
			return fmt.Errorf("failed to read source file: %w", readErr)
		}
	}
}

// DeleteFile removes path, clearing a read-only mode first. A missing file is not an
// error.
func (m *Manager) DeleteFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to stat file: %w", err)
	}

	if info.Mode().Perm()&ownerWrite == 0 {
		if err := os.Chmod(path, info.Mode().Perm()|ownerWrite); err != nil {
			return fmt.Errorf("failed to clear read-only mode: %w", err)
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// MoveFile renames src to dst. An existing dst is replaced only with overwrite, and
// stays in place if the move fails.
func (m *Manager) MoveFile(src, dst string, overwrite bool) error {
	if _, err := os.Stat(src); err != nil {
		return notFound(src, err)
	}

	if err := checkSameFile(src, dst); err != nil {
		return err
	}

	if err := checkTarget(dst, overwrite); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	// rename fails across filesystems
	if err := m.CopyFile(context.Background(), src, dst, true); err != nil {
		return err
	}

	return m.DeleteFile(src)
}

func (m *Manager) CreateDirectory(path string) error {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return nil
}

// DeleteDirectory removes path. Without recursive only an empty directory is removed.
// A missing directory is not an error.
func (m *Manager) DeleteDirectory(path string, recursive bool) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	remove := os.Remove
	if recursive {
		remove = os.RemoveAll
	}

	if err := remove(path); err != nil {
		return fmt.Errorf("failed to delete directory: %w", err)
	}

	return nil
}

// EnumerateFiles lists the files under dir whose base name matches pattern
// (filepath.Match syntax, empty matches everything), sorted by path.
func (m *Manager) EnumerateFiles(dir, pattern string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, notFound(dir, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	if pattern == "" {
		pattern = "*"
	}

	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var files []string

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}

			return nil
		}

		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate files: %w", err)
	}

	slices.Sort(files)

	return files, nil
}

func (m *Manager) SplitLargeFile(ctx context.Context, src, targetDir string) ([]chunk.Descriptor, error) {
	return m.codec.Split(ctx, src, targetDir)
}

func (m *Manager) MergeLargeFile(ctx context.Context, chunkDir, target string, totalChunks int) error {
	return m.codec.Merge(ctx, chunkDir, target, totalChunks)
}

// CleanChunks deletes the chunk files in dir and returns how many were removed.
func (m *Manager) CleanChunks(ctx context.Context, dir string) int {
	return chunk.Clean(ctx, dir)
}

func (m *Manager) ComputeDigest(ctx context.Context, path string, alg hasher.Algorithm) (string, error) {
	return m.hasher.ComputeDigest(ctx, path, alg)
}

func (m *Manager) VerifyDigest(ctx context.Context, path, expected string, alg hasher.Algorithm) (bool, error) {
	return m.hasher.VerifyDigest(ctx, path, expected, alg)
}

// BreakpointDownload downloads url into localPath, resuming a previous attempt.
func (m *Manager) BreakpointDownload(ctx context.Context, url, localPath string) (os.FileInfo, error) {
	return m.orchestrator.Download(ctx, url, localPath)
}

// BreakpointUpload uploads localPath to uploadURL in chunks, resuming a previous
// attempt, and returns the transfer identity.
func (m *Manager) BreakpointUpload(ctx context.Context, localPath, uploadURL string) (string, error) {
	return m.orchestrator.Upload(ctx, localPath, uploadURL)
}

// CleanExpiredTransferProgress purges transfer state older than maxAge; zero uses the
// configured retention.
func (m *Manager) CleanExpiredTransferProgress(ctx context.Context, maxAge time.Duration) (cleanup.Result, error) {
	res, err := m.cleaner.Purge(ctx, maxAge)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to clean expired transfer progress", "err", err)
	}

	return res, err
}

// checkSameFile rejects a dst that is src itself, through the same path or a link.
func checkSameFile(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return notFound(src, err)
	}

	dstInfo, err := os.Stat(dst)
	if err != nil {
		return nil
	}

	if os.SameFile(srcInfo, dstInfo) {
		return fmt.Errorf("%s: %w", dst, ErrSameFile)
	}

	return nil
}

func checkTarget(path string, overwrite bool) error {
	if overwrite {
		return nil
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrTargetExists, path)
	}

	return nil
}

func notFound(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &transfer.NotFoundError{Path: path, Err: err}
	}

	return err
}
