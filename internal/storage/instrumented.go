package storage

import (
	"context"
	"time"

	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/telemetry"
)

// InstrumentedProgressStore wraps a ProgressStore with telemetry.
type InstrumentedProgressStore struct {
	store     ProgressStore
	telemetry *telemetry.Telemetry
	backend   string
}

// NewInstrumentedProgressStore creates a new instrumented progress store.
func NewInstrumentedProgressStore(store ProgressStore, tel *telemetry.Telemetry, backend string) *InstrumentedProgressStore {
	return &InstrumentedProgressStore{
		store:     store,
		telemetry: tel,
		backend:   backend,
	}
}

// GetOrCreate loads or creates a record with telemetry.
func (s *InstrumentedProgressStore) GetOrCreate(
	ctx context.Context, id, localPath string, totalSizeHint int64,
) (*progress.TransferProgress, error) {
	var result *progress.TransferProgress

	var err error

	instrumentedErr := s.telemetry.InstrumentStoreOperation(ctx, s.backend, "get_or_create", func(ctx context.Context) error {
		result, err = s.store.GetOrCreate(ctx, id, localPath, totalSizeHint)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Save persists a record with telemetry.
func (s *InstrumentedProgressStore) Save(ctx context.Context, p *progress.TransferProgress) error {
	return s.telemetry.InstrumentStoreOperation(ctx, s.backend, "save", func(ctx context.Context) error {
		return s.store.Save(ctx, p)
	})
}

// Delete removes a record with telemetry.
func (s *InstrumentedProgressStore) Delete(ctx context.Context, id string) error {
	return s.telemetry.InstrumentStoreOperation(ctx, s.backend, "delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
}

// Purge removes expired records with telemetry.
func (s *InstrumentedProgressStore) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	var purged int

	err := s.telemetry.InstrumentStoreOperation(ctx, s.backend, "purge", func(ctx context.Context) error {
		var err error

		purged, err = s.store.Purge(ctx, maxAge)

		return err
	})

	return purged, err
}
