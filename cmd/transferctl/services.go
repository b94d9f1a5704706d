package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/italolelis/resumable_transfer/internal/chunk"
	"github.com/italolelis/resumable_transfer/internal/cleanup"
	"github.com/italolelis/resumable_transfer/internal/config"
	"github.com/italolelis/resumable_transfer/internal/filemanager"
	"github.com/italolelis/resumable_transfer/internal/hasher"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/notifier"
	"github.com/italolelis/resumable_transfer/internal/orchestrator"
	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/italolelis/resumable_transfer/internal/storage/badgerstore"
	"github.com/italolelis/resumable_transfer/internal/storage/filestore"
	"github.com/italolelis/resumable_transfer/internal/storage/sqlite"
	"github.com/italolelis/resumable_transfer/internal/telemetry"
	"github.com/italolelis/resumable_transfer/internal/transfer"
	"github.com/italolelis/resumable_transfer/internal/transport/httptransport"
)

// services holds everything a command needs, built from the configuration.
type services struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	store     storage.ProgressStore
	journal   storage.Journal
	codec     *chunk.Codec
	hasher    *hasher.Hasher
	cleaner   *cleanup.Cleaner
	manager   *filemanager.Manager
	notifier  notifier.Notifier

	closers []func() error
}

func newServices(ctx context.Context, cfg *config.Config, r *progressRenderer) (*services, error) {
	logger := logctx.LoggerFromContext(ctx)
	s := &services{cfg: cfg, notifier: notifier.New(cfg.DiscordWebhookURL)}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s.telemetry = tel
	s.closers = append(s.closers, func() error { return tel.Shutdown(context.WithoutCancel(ctx)) })

	// =========================================================================
	// Start Progress Store
	chunkSize := cfg.ChunkSizeBytes()
	progressDir := cfg.ProgressDirOrDefault()

	store, err := s.openStore(progressDir, chunkSize)
	if err != nil {
		s.Close()

		return nil, err
	}

	s.store = storage.NewInstrumentedProgressStore(store, tel, cfg.ProgressBackend)

	// =========================================================================
	// Start Journal
	if cfg.JournalPath != "" {
		db, err := sqlite.InitDB(cfg.JournalPath)
		if err != nil {
			s.Close()

			return nil, fmt.Errorf("failed to open transfer journal: %w", err)
		}

		s.closers = append(s.closers, db.Close)
		s.journal = sqlite.NewInstrumentedJournalRepository(db, tel)
	}

	// =========================================================================
	// Start File Manager
	s.codec, err = chunk.NewCodec(chunkSize, chunk.WithBufferSize(cfg.BufferSize), chunk.WithProgress(r.onProcess))
	if err != nil {
		s.Close()

		return nil, err
	}

	s.hasher = hasher.New(cfg.BufferSize, hasher.WithProgress(r.onProcess))

	client := httptransport.New(
		httptransport.WithToken(cfg.Remote.Token),
		httptransport.WithTimeout(cfg.Remote.Timeout),
		httptransport.WithMaxRetries(cfg.Remote.MaxRetries),
	)

	opts := []orchestrator.Option{
		orchestrator.WithHasher(s.hasher),
		orchestrator.WithHashAlgorithm(cfg.Algorithm()),
		orchestrator.WithBufferSize(cfg.BufferSize),
		orchestrator.WithScratchDir(progressDir),
		orchestrator.WithTelemetry(tel),
		orchestrator.WithProgress(r.onTransfer),
	}
	if s.journal != nil {
		opts = append(opts, orchestrator.WithJournal(s.journal))
	}

	o := orchestrator.New(s.store, transfer.NewInstrumentedTransport(client, tel, "http"), opts...)

	s.cleaner = cleanup.New(s.store, progressDir, s.journal, cfg.Retention, cleanup.WithTelemetry(tel))
	s.manager = filemanager.New(s.codec, s.hasher, o, s.cleaner, cfg.BufferSize)

	logger.Debug("services ready",
		"progress_dir", progressDir,
		"progress_backend", cfg.ProgressBackend,
		"chunk_size", chunkSize,
		"journal", cfg.JournalPath,
	)

	return s, nil
}

func (s *services) openStore(dir string, chunkSize int64) (storage.ProgressStore, error) {
	switch s.cfg.ProgressBackend {
	case config.BackendBadger:
		store, err := badgerstore.Open(filepath.Join(dir, "badger"), chunkSize)
		if err != nil {
			return nil, err
		}

		s.closers = append(s.closers, store.Close)

		return store, nil
	default:
		return filestore.New(dir, chunkSize)
	}
}

// Close releases resources in reverse order of acquisition.
func (s *services) Close() error {
	var errs []error

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
