package hasher

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/transfer"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	MD5        Algorithm = "md5"
	SHA1       Algorithm = "sha1"
	SHA256     Algorithm = "sha256"
	BLAKE2b256 Algorithm = "blake2b-256"
	XXH64      Algorithm = "xxh64"

	DefaultBufferSize = 81920
)

var constructors = map[Algorithm]func() hash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA256: sha256.New,
	BLAKE2b256: func() hash.Hash {
		// New256 only fails for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)

		return h
	},
	XXH64: func() hash.Hash { return xxhash.New() },
}

var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Algorithms lists the supported algorithm names in a stable order.
func Algorithms() []Algorithm {
	names := make([]Algorithm, 0, len(constructors))
	for a := range constructors {
		names = append(names, a)
	}

	slices.Sort(names)

	return names
}

// ParseAlgorithm resolves a case-insensitive algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := constructors[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}

	return a, nil
}

// New returns a fresh incremental hash for a.
func (a Algorithm) New() (hash.Hash, error) {
	ctor, ok := constructors[a]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}

	return ctor(), nil
}

// DigestString returns the lowercase hex digest of s.
func DigestString(a Algorithm, s string) (string, error) {
	h, err := a.New()
	if err != nil {
		return "", err
	}

	io.WriteString(h, s)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Hasher streams files through an incremental hash in fixed-size blocks.
type Hasher struct {
	bufferSize int
	onProgress progress.ProcessFunc
}

type Option func(*Hasher)

// WithProgress reports hashing progress once per block.
func WithProgress(fn progress.ProcessFunc) Option {
	return func(h *Hasher) {
		h.onProgress = fn
	}
}

func New(bufferSize int, opts ...Option) *Hasher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	h := &Hasher{bufferSize: bufferSize}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ComputeDigest returns the lowercase hex digest of the file at path. The context is
// checked between blocks.
func (h *Hasher) ComputeDigest(ctx context.Context, path string, alg Algorithm) (string, error) {
	digest, err := alg.New()
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &transfer.NotFoundError{Path: path, Err: err}
		}

		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file for hashing: %w", err)
	}

	r := progress.NewReader(f, info.Size(), int64(h.bufferSize), "hashing", h.onProgress)
	buf := make([]byte, h.bufferSize)

	for {
		if err := transfer.Cancelled(ctx, "hash"); err != nil {
			return "", err
		}

		n, err := r.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			return "", fmt.Errorf("failed to read file for hashing: %w", err)
		}
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// VerifyDigest reports whether the file's digest equals expected, ignoring case.
func (h *Hasher) VerifyDigest(ctx context.Context, path, expected string, alg Algorithm) (bool, error) {
	actual, err := h.ComputeDigest(ctx, path, alg)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(actual, strings.TrimSpace(expected)), nil
}
