package chunk

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Suffix separates a chunk's base name from its index: "<base>.chunk-<index>".
const Suffix = ".chunk-"

const (
	MinChunkSize     int64 = 1 << 20
	MaxChunkSize     int64 = 32 << 20
	DefaultChunkSize int64 = 4 << 20
)

// ClampChunkSize bounds a configured chunk size to [MinChunkSize, MaxChunkSize].
// Non-positive values select DefaultChunkSize.
func ClampChunkSize(n int64) int64 {
	switch {
	case n <= 0:
		return DefaultChunkSize
	case n < MinChunkSize:
		return MinChunkSize
	case n > MaxChunkSize:
		return MaxChunkSize
	default:
		return n
	}
}

// Name returns the file name of chunk index for base.
func Name(base string, index int) string {
	return base + Suffix + strconv.Itoa(index)
}

// BaseName is the source file name without its extension.
func BaseName(sourcePath string) string {
	name := filepath.Base(sourcePath)

	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ParseIndex extracts the index from a chunk file name. The text after the last
// Suffix must be a non-empty run of ASCII digits.
func ParseIndex(name string) (int, bool) {
	pos := strings.LastIndex(name, Suffix)
	if pos < 0 {
		return 0, false
	}

	digits := name[pos+len(Suffix):]
	if digits == "" {
		return 0, false
	}

	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}

	index, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}

	return index, true
}
