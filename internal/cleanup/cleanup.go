package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/orchestrator"
	"github.com/italolelis/resumable_transfer/internal/storage"
	"github.com/italolelis/resumable_transfer/internal/telemetry"
)

const component = "cleanup"

// Result counts what a purge removed.
type Result struct {
	ProgressRecords int
	ScratchDirs     int
	JournalEntries  int64
}

// Cleaner expires transfer state that was not touched within the retention window.
type Cleaner struct {
	store      storage.ProgressStore
	scratchDir string
	journal    storage.JournalWriteRepository
	retention  time.Duration
	telemetry  *telemetry.Telemetry
}

type Option func(*Cleaner)

// WithTelemetry counts failures that a purge logs and skips as system errors.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(c *Cleaner) {
		c.telemetry = tel
	}
}

// New creates a Cleaner. scratchDir and journal are optional.
func New(
	store storage.ProgressStore,
	scratchDir string,
	journal storage.JournalWriteRepository,
	retention time.Duration,
	opts ...Option,
) *Cleaner {
	c := &Cleaner{
		store:      store,
		scratchDir: scratchDir,
		journal:    journal,
		retention:  retention,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Purge removes progress records, leftover upload scratch directories and journal
// entries older than maxAge. A maxAge of zero uses the configured retention.
func (c *Cleaner) Purge(ctx context.Context, maxAge time.Duration) (Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	if maxAge <= 0 {
		maxAge = c.retention
	}

	var res Result

	purged, err := c.store.Purge(ctx, maxAge)
	if err != nil {
		c.telemetry.RecordSystemError(component, "progress_purge")

		return res, fmt.Errorf("failed to purge transfer progress: %w", err)
	}

	res.ProgressRecords = purged

	if c.scratchDir != "" {
		removed, failed := purgeScratchDirs(ctx, c.scratchDir, maxAge)
		res.ScratchDirs = removed

		for range failed {
			c.telemetry.RecordSystemError(component, "scratch_dir_removal")
		}
	}

	if c.journal != nil {
		deleted, err := c.journal.DeleteTransfersBefore(ctx, time.Now().Add(-maxAge))
		if err != nil {
			c.telemetry.RecordSystemError(component, "journal_purge")
			logger.WarnContext(ctx, "failed to purge transfer journal", "err", err)
		}

		res.JournalEntries = deleted
	}

	if res.ProgressRecords > 0 || res.ScratchDirs > 0 || res.JournalEntries > 0 {
		logger.InfoContext(ctx, "purged expired transfer state",
			"progress_records", res.ProgressRecords,
			"scratch_dirs", res.ScratchDirs,
			"journal_entries", res.JournalEntries,
			"max_age", maxAge,
		)
	}

	return res, nil
}

// Run purges once per interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down cleanup")

			return
		case <-ticker.C:
			if _, err := c.Purge(ctx, 0); err != nil {
				logger.Error("failed to clean up transfer state", "err", err)
			}
		}
	}
}

// PurgeScratchDirs removes upload scratch directories under root that were not modified
// within maxAge. Failures are logged and skipped.
func PurgeScratchDirs(ctx context.Context, root string, maxAge time.Duration) int {
	removed, _ := purgeScratchDirs(ctx, root, maxAge)

	return removed
}

func purgeScratchDirs(ctx context.Context, root string, maxAge time.Duration) (removed, failed int) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to read scratch directory", "dir", root, "err", err)

			return 0, 1
		}

		return 0, 0
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), orchestrator.ScratchPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove scratch directory", "dir", dir, "err", err)

			failed++

			continue
		}

		logger.Debug("removed scratch directory", "dir", dir)

		removed++
	}

	return removed, failed
}
