package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/resumable_transfer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()

	dir := t.TempDir()

	cfg := &config.Config{
		ChunkSize:       1 << 20,
		BufferSize:      4096,
		ProgressDir:     filepath.Join(dir, "progress"),
		ProgressBackend: backend,
		Retention:       72 * time.Hour,
		CleanupInterval: time.Hour,
		HashAlgorithm:   "md5",
		JournalPath:     filepath.Join(dir, "transfers.db"),
		LogLevel:        "ERROR",
	}
	cfg.Telemetry.ServiceName = "transferctl"

	return cfg
}

func TestNewServices(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)

			s, err := newServices(context.Background(), cfg, newProgressRenderer(false, ""))
			require.NoError(t, err)

			defer func() { require.NoError(t, s.Close()) }()

			assert.NotNil(t, s.journal)
			assert.NotNil(t, s.manager)

			res, err := s.manager.CleanExpiredTransferProgress(context.Background(), 0)
			require.NoError(t, err)
			assert.Zero(t, res.ProgressRecords)
		})
	}
}

func TestApp_Hash(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)

	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	var out bytes.Buffer

	app := newApp(cfg)
	app.Writer = &out

	require.NoError(t, app.RunContext(context.Background(), []string{"transferctl", "-q", "hash", path}))
	assert.Contains(t, out.String(), "5d41402abc4b2a76b9719d911017c592")

	out.Reset()
	require.NoError(t, app.RunContext(context.Background(), []string{"transferctl", "-q", "verify", path, "5D41402ABC4B2A76B9719D911017C592"}))
	assert.Contains(t, out.String(), "OK")

	err := app.RunContext(context.Background(), []string{"transferctl", "-q", "verify", path, "00"})
	require.ErrorIs(t, err, errDigestMismatch)
}

func TestApp_StatusRequiresJournal(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	cfg.JournalPath = ""

	app := newApp(cfg)
	app.Writer = &bytes.Buffer{}

	err := app.RunContext(context.Background(), []string{"transferctl", "status"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOURNAL_PATH")
}
