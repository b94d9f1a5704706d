package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/resumable_transfer/internal/hasher"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/italolelis/resumable_transfer/internal/telemetry"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

const (
	DefaultBufferSize = 80 * 1024

	// ScratchPrefix names the per-upload directory holding split chunks.
	ScratchPrefix = "temp-chunks-"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Orchestrator drives resumable downloads and chunked uploads, persisting progress
// after every step so an interrupted transfer continues where it stopped.
type Orchestrator struct {
	store      storage.ProgressStore
	transport  transfer.Transport
	hasher     *hasher.Hasher
	algorithm  hasher.Algorithm
	bufferSize int
	scratchDir string
	journal    storage.JournalWriteRepository
	telemetry  *telemetry.Telemetry
	onProgress progress.TransferFunc
}

type Option func(*Orchestrator)

func WithHasher(h *hasher.Hasher) Option {
	return func(o *Orchestrator) {
		o.hasher = h
	}
}

// WithHashAlgorithm selects the digest used as upload identity.
func WithHashAlgorithm(alg hasher.Algorithm) Option {
	return func(o *Orchestrator) {
		o.algorithm = alg
	}
}

func WithBufferSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithScratchDir sets where uploads split their chunks.
func WithScratchDir(dir string) Option {
	return func(o *Orchestrator) {
		o.scratchDir = dir
	}
}

// WithJournal records the outcome of every transfer attempt.
func WithJournal(j storage.JournalWriteRepository) Option {
	return func(o *Orchestrator) {
		o.journal = j
	}
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Orchestrator) {
		o.telemetry = tel
	}
}

// WithProgress is called with a snapshot of the record after every persisted change.
func WithProgress(fn progress.TransferFunc) Option {
	return func(o *Orchestrator) {
		o.onProgress = fn
	}
}

func New(store storage.ProgressStore, t transfer.Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		transport:  t,
		algorithm:  hasher.MD5,
		bufferSize: DefaultBufferSize,
		scratchDir: os.TempDir(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.hasher == nil {
		o.hasher = hasher.New(o.bufferSize)
	}

	return o
}

// ScratchDir is the directory an upload of id splits its chunks into.
func ScratchDir(root, id string) string {
	return filepath.Join(root, ScratchPrefix+id)
}

// save persists p and only then reports it.
func (o *Orchestrator) save(ctx context.Context, p *progress.TransferProgress) error {
	if err := o.store.Save(ctx, p); err != nil {
		return fmt.Errorf("failed to persist transfer progress: %w", err)
	}

	if o.onProgress != nil {
		o.onProgress(*p.Clone())
	}

	return nil
}

// fail marks p interrupted, persists it even when ctx is already cancelled and wraps
// cause into the error surfaced to the caller.
func (o *Orchestrator) fail(
	ctx context.Context,
	dir transfer.Direction,
	p *progress.TransferProgress,
	localPath, remoteURL string,
	cause error,
) error {
	logger := logctx.LoggerFromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	p.MarkInterrupted()

	if err := o.save(ctx, p); err != nil {
		o.telemetry.RecordSystemError("orchestrator", "progress_save")
		logger.ErrorContext(ctx, "failed to persist interrupted transfer", "err", err)
	}

	o.record(ctx, dir, p, localPath, remoteURL, cause)

	logger.ErrorContext(ctx, "transfer interrupted",
		"direction", dir,
		"kind", transfer.KindOf(cause).String(),
		"processed", p.ProcessedSize,
		"total", p.TotalSize,
		"err", cause,
	)

	return &transfer.TransferError{
		Direction:     dir,
		ID:            p.ID,
		ProcessedSize: p.ProcessedSize,
		TotalSize:     p.TotalSize,
		Err:           cause,
	}
}

// record writes the attempt outcome to the journal. Journal failures never fail a
// transfer.
func (o *Orchestrator) record(
	ctx context.Context,
	dir transfer.Direction,
	p *progress.TransferProgress,
	localPath, remoteURL string,
	cause error,
) {
	if o.journal == nil {
		return
	}

	rec := storage.TransferRecord{
		TransferID:    p.ID,
		Direction:     string(dir),
		LocalPath:     localPath,
		RemoteURL:     remoteURL,
		Status:        p.Status.String(),
		TotalSize:     p.TotalSize,
		ProcessedSize: p.ProcessedSize,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	if err := o.journal.RecordTransfer(ctx, rec); err != nil {
		o.telemetry.RecordSystemError("journal", "record_transfer")
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record transfer in journal", "err", err)
	}
}

// stopwatch hands out the time elapsed since its previous lap.
type stopwatch struct {
	last time.Time
}

func newStopwatch() *stopwatch {
	return &stopwatch{last: time.Now()}
}

func (s *stopwatch) lap() time.Duration {
	now := time.Now()
	d := now.Sub(s.last)
	s.last = now

	return d
}
