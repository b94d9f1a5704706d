package cleanup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/resumable_transfer/internal/orchestrator"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/italolelis/resumable_transfer/internal/storage/filestore"
	"github.com/italolelis/resumable_transfer/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJournal struct {
	cutoff time.Time
}

func (j *fakeJournal) RecordTransfer(context.Context, storage.TransferRecord) error {
	return nil
}

func (j *fakeJournal) DeleteTransfersBefore(_ context.Context, cutoff time.Time) (int64, error) {
	j.cutoff = cutoff

	return 3, nil
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	store, err := filestore.New(root, 10)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, progress.New("old", 25, 10)))
	require.NoError(t, store.Save(ctx, progress.New("new", 25, 10)))

	old := time.Now().Add(-100 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("old"), old, old))

	staleScratch := orchestrator.ScratchDir(root, "stale")
	freshScratch := orchestrator.ScratchDir(root, "fresh")
	unrelated := filepath.Join(root, "keep-me")

	for _, dir := range []string{staleScratch, freshScratch, unrelated} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	require.NoError(t, os.WriteFile(filepath.Join(staleScratch, "x.chunk-0"), []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(staleScratch, old, old))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	journal := &fakeJournal{}
	c := New(store, root, journal, 72*time.Hour)

	res, err := c.Purge(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.ProgressRecords)
	assert.Equal(t, 1, res.ScratchDirs)
	assert.Equal(t, int64(3), res.JournalEntries)
	assert.WithinDuration(t, time.Now().Add(-72*time.Hour), journal.cutoff, time.Minute)

	assert.NoDirExists(t, staleScratch)
	assert.DirExists(t, freshScratch)
	assert.DirExists(t, unrelated)
	assert.FileExists(t, store.Path("new"))
}

func TestRun_StopsOnCancel(t *testing.T) {
	store, err := filestore.New(t.TempDir(), 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		New(store, "", nil, time.Hour).Run(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestPurgeScratchDirs_MissingRoot(t *testing.T) {
	assert.Equal(t, 0, PurgeScratchDirs(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Hour))
}

type brokenJournal struct{}

func (brokenJournal) RecordTransfer(context.Context, storage.TransferRecord) error {
	return errors.New("database is locked")
}

func (brokenJournal) DeleteTransfersBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestPurge_CountsSkippedFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: "cleanup-test", ServiceVersion: "test"})
	require.NoError(t, err)

	defer tel.Shutdown(context.Background())

	store, err := filestore.New(t.TempDir(), 10)
	require.NoError(t, err)

	c := New(store, "", brokenJournal{}, time.Hour, WithTelemetry(tel))

	res, err := c.Purge(ctx, 0)
	require.NoError(t, err, "journal failures are logged, not returned")
	assert.Zero(t, res.JournalEntries)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "system_errors_total")
	assert.Contains(t, body, `component="cleanup"`)
	assert.Contains(t, body, `error_type="journal_purge"`)
}
