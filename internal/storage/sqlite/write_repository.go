package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/resumable_transfer/internal/storage"
)

// JournalWriteRepository implements storage.JournalWriteRepository
// and stores transfer outcomes in SQLite.
type JournalWriteRepository struct {
	db         *sql.DB
	instanceID string
}

func NewJournalWriteRepository(db *sql.DB) *JournalWriteRepository {
	return &JournalWriteRepository{db: db, instanceID: storage.GenerateInstanceID()}
}

// RecordTransfer inserts or replaces the entry for rec.TransferID.
func (r *JournalWriteRepository) RecordTransfer(ctx context.Context, rec storage.TransferRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	instanceID := rec.InstanceID
	if instanceID == "" {
		instanceID = r.instanceID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfers (
			transfer_id, direction, local_path, remote_url, status,
			total_size, processed_size, error, instance_id, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id) DO UPDATE SET
			direction = excluded.direction,
			local_path = excluded.local_path,
			remote_url = excluded.remote_url,
			status = excluded.status,
			total_size = excluded.total_size,
			processed_size = excluded.processed_size,
			error = excluded.error,
			instance_id = excluded.instance_id,
			updated_at = excluded.updated_at
	`,
		rec.TransferID, rec.Direction, rec.LocalPath, rec.RemoteURL, rec.Status,
		rec.TotalSize, rec.ProcessedSize, rec.Error, instanceID, updatedAt.UTC().Format(time.RFC3339Nano),
	)

	return err
}

// DeleteTransfersBefore removes entries not updated since cutoff.
func (r *JournalWriteRepository) DeleteTransfersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transfers WHERE updated_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
