package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIndex(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantIndex int
		wantOK    bool
	}{
		{name: "first chunk", input: "movie.chunk-0", wantIndex: 0, wantOK: true},
		{name: "two digits", input: "movie.chunk-10", wantIndex: 10, wantOK: true},
		{name: "base contains suffix", input: "a.chunk-3.chunk-4", wantIndex: 4, wantOK: true},
		{name: "leading zeros", input: "movie.chunk-007", wantIndex: 7, wantOK: true},
		{name: "no suffix", input: "movie.mkv", wantOK: false},
		{name: "empty index", input: "movie.chunk-", wantOK: false},
		{name: "signed index", input: "movie.chunk--1", wantOK: false},
		{name: "plus sign", input: "movie.chunk-+1", wantOK: false},
		{name: "trailing extension", input: "movie.chunk-1.tmp", wantOK: false},
		{name: "overflow", input: "movie.chunk-99999999999999999999999", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, ok := ParseIndex(tt.input)
			assert.Equal(t, tt.wantOK, ok)

			if tt.wantOK {
				assert.Equal(t, tt.wantIndex, index)
			}
		})
	}
}

func TestNameAndBaseName(t *testing.T) {
	assert.Equal(t, "movie.chunk-12", Name("movie", 12))
	assert.Equal(t, "movie", BaseName("/data/movie.mkv"))
	assert.Equal(t, "archive.tar", BaseName("archive.tar.gz"))
	assert.Equal(t, "noext", BaseName("noext"))
}

func TestClampChunkSize(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{name: "zero selects default", in: 0, want: DefaultChunkSize},
		{name: "negative selects default", in: -5, want: DefaultChunkSize},
		{name: "below minimum", in: 1024, want: MinChunkSize},
		{name: "above maximum", in: 64 << 20, want: MaxChunkSize},
		{name: "in range", in: 8 << 20, want: 8 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampChunkSize(tt.in))
		})
	}
}
