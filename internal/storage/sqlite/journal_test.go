package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) *InstrumentedJournalRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewInstrumentedJournalRepository(db, nil)
}

func TestRecordTransfer_Upsert(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordTransfer(ctx, storage.TransferRecord{
		TransferID:    "abc",
		Direction:     "upload",
		LocalPath:     "/data/a.bin",
		RemoteURL:     "http://remote/upload",
		Status:        "interrupted",
		TotalSize:     25,
		ProcessedSize: 10,
		Error:         "network error",
	}))

	require.NoError(t, j.RecordTransfer(ctx, storage.TransferRecord{
		TransferID:    "abc",
		Direction:     "upload",
		LocalPath:     "/data/a.bin",
		RemoteURL:     "http://remote/upload",
		Status:        "completed",
		TotalSize:     25,
		ProcessedSize: 25,
	}))

	records, err := j.GetTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "completed", records[0].Status)
	assert.Equal(t, int64(25), records[0].ProcessedSize)
	assert.Empty(t, records[0].Error)
	assert.NotEmpty(t, records[0].InstanceID)
	assert.False(t, records[0].UpdatedAt.IsZero())
}

func TestGetTransfersByStatus(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	for _, rec := range []storage.TransferRecord{
		{TransferID: "a", Direction: "download", Status: "completed"},
		{TransferID: "b", Direction: "download", Status: "interrupted"},
		{TransferID: "c", Direction: "upload", Status: "interrupted"},
	} {
		require.NoError(t, j.RecordTransfer(ctx, rec))
	}

	interrupted, err := j.GetTransfersByStatus(ctx, "interrupted")
	require.NoError(t, err)
	assert.Len(t, interrupted, 2)

	completed, err := j.GetTransfersByStatus(ctx, "completed")
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "a", completed[0].TransferID)
}

func TestDeleteTransfersBefore(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordTransfer(ctx, storage.TransferRecord{
		TransferID: "old", Direction: "download", Status: "completed", UpdatedAt: time.Now().Add(-100 * time.Hour),
	}))
	require.NoError(t, j.RecordTransfer(ctx, storage.TransferRecord{
		TransferID: "new", Direction: "download", Status: "completed",
	}))

	deleted, err := j.DeleteTransfersBefore(ctx, time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	records, err := j.GetTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].TransferID)
}
