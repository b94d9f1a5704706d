package storage

import (
	"context"
	"time"
)

// TransferRecord is one row of the transfer journal: the latest known outcome of a
// transfer identity.
type TransferRecord struct {
	TransferID    string
	Direction     string
	LocalPath     string
	RemoteURL     string
	Status        string
	TotalSize     int64
	ProcessedSize int64
	Error         string
	InstanceID    string
	UpdatedAt     time.Time
}

// JournalReadRepository lists journal entries.
type JournalReadRepository interface {
	GetTransfers(ctx context.Context) ([]TransferRecord, error)
	GetTransfersByStatus(ctx context.Context, status string) ([]TransferRecord, error)
}

// JournalWriteRepository records transfer outcomes.
type JournalWriteRepository interface {
	RecordTransfer(ctx context.Context, rec TransferRecord) error
	DeleteTransfersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Journal interface {
	JournalReadRepository
	JournalWriteRepository
}
