package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "progress"), 10)
	require.NoError(t, err)

	return s
}

func TestGetOrCreate_FreshRecord(t *testing.T) {
	s := newStore(t)

	p, err := s.GetOrCreate(context.Background(), "abc", "", 25)
	require.NoError(t, err)

	assert.Equal(t, "abc", p.ID)
	assert.Equal(t, int64(25), p.TotalSize)
	assert.Equal(t, int64(10), p.ChunkSize)
	assert.Equal(t, progress.StatusNotStarted, p.Status)
	assert.Empty(t, p.CompletedChunkIndexes)
}

func TestSaveAndLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p, err := s.GetOrCreate(ctx, "abc", "", 25)
	require.NoError(t, err)
	require.NoError(t, p.CompleteChunk(0))
	p.MarkInterrupted()
	require.NoError(t, s.Save(ctx, p))

	loaded, err := s.GetOrCreate(ctx, "abc", "", 25)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, loaded.CompletedChunkIndexes)
	assert.Equal(t, int64(10), loaded.ProcessedSize)
	assert.Equal(t, progress.StatusInterrupted, loaded.Status)

	assert.FileExists(t, s.Path("abc"))
	assert.Equal(t, storage.Key("abc")+storage.ProgressFileSuffix, filepath.Base(s.Path("abc")))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestGetOrCreate_CorruptRecordIsDiscarded(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "garbage", content: "{not json"},
		{name: "invariant violation", content: `{"fileId":"abc","totalSize":10,"processedSize":50,"chunkSize":10,"status":1}`},
		{name: "foreign identity", content: `{"fileId":"other","totalSize":10,"processedSize":5,"chunkSize":10,"status":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			require.NoError(t, os.WriteFile(s.Path("abc"), []byte(tt.content), 0o644))

			p, err := s.GetOrCreate(context.Background(), "abc", "", 25)
			require.NoError(t, err)

			assert.Equal(t, progress.StatusNotStarted, p.Status)
			assert.Equal(t, int64(0), p.ProcessedSize)

			_, err = os.Stat(s.Path("abc"))
			assert.True(t, errors.Is(err, os.ErrNotExist), "corrupt record must be removed")
		})
	}
}

func TestGetOrCreate_StaleRecordIsDiscarded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "download.bin")

	p, err := s.GetOrCreate(ctx, local, local, 0)
	require.NoError(t, err)

	p.TotalSize = 100
	require.NoError(t, p.Advance(40))
	require.NoError(t, s.Save(ctx, p))

	loaded, err := s.GetOrCreate(ctx, local, local, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.ProcessedSize, "local file is gone so the record is stale")

	require.NoError(t, os.WriteFile(local, make([]byte, 40), 0o644))
	require.NoError(t, s.Save(ctx, p))

	loaded, err = s.GetOrCreate(ctx, local, local, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(40), loaded.ProcessedSize)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, progress.New("abc", 25, 10)))
	require.NoError(t, s.Delete(ctx, "abc"))
	require.NoError(t, s.Delete(ctx, "abc"))

	assert.NoFileExists(t, s.Path("abc"))
}

func TestPurge(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, progress.New("old", 25, 10)))
	require.NoError(t, s.Save(ctx, progress.New("new", 25, 10)))

	old := time.Now().Add(-96 * time.Hour)
	require.NoError(t, os.Chtimes(s.Path("old"), old, old))

	leftover := filepath.Join(s.Dir(), storage.Key("x")+".123.tmp")
	require.NoError(t, os.WriteFile(leftover, []byte("{"), 0o644))
	require.NoError(t, os.Chtimes(leftover, old, old))

	unrelated := filepath.Join(s.Dir(), "README")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	scratch := filepath.Join(s.Dir(), "temp-chunks-x")
	require.NoError(t, os.MkdirAll(scratch, 0o755))

	purged, err := s.Purge(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	assert.NoFileExists(t, s.Path("old"))
	assert.NoFileExists(t, leftover)
	assert.FileExists(t, s.Path("new"))
	assert.FileExists(t, unrelated)
	assert.DirExists(t, scratch)
}

func TestNew_RejectsNonPositiveChunkSize(t *testing.T) {
	_, err := New(t.TempDir(), 0)
	require.Error(t, err)
}
