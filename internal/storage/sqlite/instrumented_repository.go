package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/italolelis/resumable_transfer/internal/telemetry"
)

// InstrumentedJournalRepository wraps the journal repositories with telemetry.
type InstrumentedJournalRepository struct {
	read      *JournalReadRepository
	write     *JournalWriteRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedJournalRepository creates a new instrumented journal repository.
func NewInstrumentedJournalRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedJournalRepository {
	return &InstrumentedJournalRepository{
		read:      NewJournalReadRepository(dbConn),
		write:     NewJournalWriteRepository(dbConn),
		telemetry: tel,
	}
}

// GetTransfers retrieves all journal entries with telemetry.
func (r *InstrumentedJournalRepository) GetTransfers(ctx context.Context) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_transfers", func(ctx context.Context) error {
		result, err = r.read.GetTransfers(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetTransfersByStatus retrieves journal entries by status with telemetry.
func (r *InstrumentedJournalRepository) GetTransfersByStatus(ctx context.Context, status string) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_transfers_by_status", func(ctx context.Context) error {
		result, err = r.read.GetTransfersByStatus(ctx, status)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// RecordTransfer records a transfer outcome with telemetry.
func (r *InstrumentedJournalRepository) RecordTransfer(ctx context.Context, rec storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_transfer", func(ctx context.Context) error {
		return r.write.RecordTransfer(ctx, rec)
	})
}

// DeleteTransfersBefore removes old journal entries with telemetry.
func (r *InstrumentedJournalRepository) DeleteTransfersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_transfers_before", func(ctx context.Context) error {
		var err error

		deleted, err = r.write.DeleteTransfersBefore(ctx, cutoff)

		return err
	})

	return deleted, err
}
