package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/resumable_transfer/internal/config"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/transfer"
	slogmulti "github.com/samber/slog-multi"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		slog.Error("failed to set up logging", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = newApp(cfg).RunContext(logctx.WithLogger(ctx, logger), os.Args)

	cancel()
	closeLog()

	if err != nil {
		logger.Error("fatal error", "err", err, "kind", transfer.KindOf(err).String())
		os.Exit(1)
	}
}

// setupLogger logs JSON to stderr and, when LOG_FILE is set, to that file as well.
func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	handler := slog.Handler(slog.NewJSONHandler(os.Stderr, opts))
	closeFn := func() {}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}

		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(f, opts))
		closeFn = func() { f.Close() }
	}

	return slog.New(logctx.NewTraceHandler(handler)), closeFn, nil
}
