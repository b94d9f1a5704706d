package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/resumable_transfer/internal/storage"
)

const selectTransfers = `SELECT
		transfer_id,
		direction,
		local_path,
		remote_url,
		status,
		total_size,
		processed_size,
		error,
		instance_id,
		updated_at
	FROM transfers`

type JournalReadRepository struct {
	db *sql.DB
}

func NewJournalReadRepository(dbConn *sql.DB) *JournalReadRepository {
	return &JournalReadRepository{db: dbConn}
}

// GetTransfers returns every journal entry, most recently updated first.
func (r *JournalReadRepository) GetTransfers(ctx context.Context) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectTransfers+` ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// GetTransfersByStatus returns the entries whose last outcome is status.
func (r *JournalReadRepository) GetTransfersByStatus(ctx context.Context, status string) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectTransfers+` WHERE status = ? ORDER BY updated_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransfers(rows)
}

func scanTransfers(rows *sql.Rows) ([]storage.TransferRecord, error) {
	var records []storage.TransferRecord

	for rows.Next() {
		var (
			record                               storage.TransferRecord
			localPath, remoteURL, errMsg, instID sql.NullString
			updatedAt                            string
		)

		if err := rows.Scan(
			&record.TransferID,
			&record.Direction,
			&localPath,
			&remoteURL,
			&record.Status,
			&record.TotalSize,
			&record.ProcessedSize,
			&errMsg,
			&instID,
			&updatedAt,
		); err != nil {
			return nil, err
		}

		record.LocalPath = localPath.String
		record.RemoteURL = remoteURL.String
		record.Error = errMsg.String
		record.InstanceID = instID.String

		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			record.UpdatedAt = ts
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
