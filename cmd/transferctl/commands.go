package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_transfer/internal/chunk"
	"github.com/italolelis/resumable_transfer/internal/config"
	"github.com/italolelis/resumable_transfer/internal/hasher"
	"github.com/italolelis/resumable_transfer/internal/http/rest"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var errDigestMismatch = errors.New("digest mismatch")

func newApp(cfg *config.Config) *cli.App {
	algorithmFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:    "algorithm",
			Aliases: []string{"a"},
			Usage:   "hash algorithm (" + algorithmNames() + ")",
			Value:   cfg.HashAlgorithm,
		}
	}

	return &cli.App{
		Name:    "transferctl",
		Usage:   "resumable chunked file transfers",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "do not draw progress bars"},
		},
		Commands: []*cli.Command{
			{
				Name:      "split",
				Usage:     "split a file into numbered chunks",
				ArgsUsage: "<source> <target-dir>",
				Action: withServices(cfg, "", func(c *cli.Context, s *services) error {
					if c.NArg() != 2 {
						return cli.ShowSubcommandHelp(c)
					}

					chunks, err := s.manager.SplitLargeFile(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}

					fmt.Fprintf(c.App.Writer, "%d chunks of up to %s\n", len(chunks), humanize.IBytes(uint64(s.codec.ChunkSize())))

					return nil
				}),
			},
			{
				Name:      "merge",
				Usage:     "merge chunks back into one file",
				ArgsUsage: "<chunk-dir> <target> <total-chunks>",
				Action: withServices(cfg, "", func(c *cli.Context, s *services) error {
					if c.NArg() != 3 {
						return cli.ShowSubcommandHelp(c)
					}

					total, err := strconv.Atoi(c.Args().Get(2))
					if err != nil {
						return fmt.Errorf("invalid chunk count %q: %w", c.Args().Get(2), err)
					}

					return s.manager.MergeLargeFile(c.Context, c.Args().Get(0), c.Args().Get(1), total)
				}),
			},
			{
				Name:      "clean",
				Usage:     "delete chunk files from a directory",
				ArgsUsage: "<chunk-dir>",
				Action: withServices(cfg, "", func(c *cli.Context, s *services) error {
					if c.NArg() != 1 {
						return cli.ShowSubcommandHelp(c)
					}

					n := s.manager.CleanChunks(c.Context, c.Args().First())
					fmt.Fprintf(c.App.Writer, "%d chunks removed\n", n)

					return nil
				}),
			},
			{
				Name:      "hash",
				Usage:     "compute the digest of a file",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{algorithmFlag()},
				Action: withServices(cfg, "", func(c *cli.Context, s *services) error {
					if c.NArg() != 1 {
						return cli.ShowSubcommandHelp(c)
					}

					alg, err := hasher.ParseAlgorithm(c.String("algorithm"))
					if err != nil {
						return err
					}

					digest, err := s.manager.ComputeDigest(c.Context, c.Args().First(), alg)
					if err != nil {
						return err
					}

					fmt.Fprintf(c.App.Writer, "%s  %s\n", digest, c.Args().First())

					return nil
				}),
			},
			{
				Name:      "verify",
				Usage:     "compare a file against an expected digest",
				ArgsUsage: "<file> <digest>",
				Flags:     []cli.Flag{algorithmFlag()},
				Action: withServices(cfg, "", func(c *cli.Context, s *services) error {
					if c.NArg() != 2 {
						return cli.ShowSubcommandHelp(c)
					}

					alg, err := hasher.ParseAlgorithm(c.String("algorithm"))
					if err != nil {
						return err
					}

					ok, err := s.manager.VerifyDigest(c.Context, c.Args().Get(0), c.Args().Get(1), alg)
					if err != nil {
						return err
					}

					if !ok {
						return fmt.Errorf("%s: %w", c.Args().Get(0), errDigestMismatch)
					}

					fmt.Fprintln(c.App.Writer, "OK")

					return nil
				}),
			},
			{
				Name:      "download",
				Usage:     "download a URL to a local file, resuming a previous attempt",
				ArgsUsage: "<url> <local-path>",
				Action:    withServices(cfg, "downloading", download),
			},
			{
				Name:      "upload",
				Usage:     "upload a local file in chunks, resuming a previous attempt",
				ArgsUsage: "<local-path> <upload-url>",
				Action:    withServices(cfg, "uploading", upload),
			},
			{
				Name:  "purge",
				Usage: "remove expired progress records, scratch directories and journal entries",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "max-age", Usage: "age after which entries expire", Value: cfg.Retention},
				},
				Action: withServices(cfg, "", func(c *cli.Context, s *services) error {
					res, err := s.manager.CleanExpiredTransferProgress(c.Context, c.Duration("max-age"))
					if err != nil {
						return err
					}

					fmt.Fprintf(c.App.Writer, "purged %d progress records, %d scratch directories, %d journal entries\n",
						res.ProgressRecords, res.ScratchDirs, res.JournalEntries)

					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "list journaled transfers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "only list transfers in this state (in_progress, completed, interrupted)"},
				},
				Action: withServices(cfg, "", status),
			},
			{
				Name:   "serve",
				Usage:  "run the chunk receiver and the periodic cleanup",
				Action: withServices(cfg, "", serve),
			},
		},
	}
}

func algorithmNames() string {
	names := make([]string, 0, len(hasher.Algorithms()))
	for _, alg := range hasher.Algorithms() {
		names = append(names, string(alg))
	}

	return strings.Join(names, ", ")
}

// withServices builds the services for one command invocation and releases them afterwards.
func withServices(cfg *config.Config, transferDesc string, fn func(*cli.Context, *services) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		r := newProgressRenderer(!c.Bool("quiet"), transferDesc)
		defer r.finish()

		s, err := newServices(c.Context, cfg, r)
		if err != nil {
			return err
		}

		defer func() {
			if err := s.Close(); err != nil {
				logctx.LoggerFromContext(c.Context).Warn("failed to release resources", "err", err)
			}
		}()

		return fn(c, s)
	}
}

func download(c *cli.Context, s *services) error {
	if c.NArg() != 2 {
		return cli.ShowSubcommandHelp(c)
	}

	ctx := c.Context
	url, localPath := c.Args().Get(0), c.Args().Get(1)

	info, err := s.manager.BreakpointDownload(ctx, url, localPath)
	if err != nil {
		s.notify(ctx, fmt.Sprintf("❌ Download of **%s** failed: %v", localPath, err))

		return err
	}

	s.notify(ctx, fmt.Sprintf("✅ Download finished: **%s** (%s)", info.Name(), humanize.IBytes(uint64(info.Size()))))
	fmt.Fprintf(c.App.Writer, "%s %s\n", localPath, humanize.IBytes(uint64(info.Size())))

	return nil
}

func upload(c *cli.Context, s *services) error {
	if c.NArg() != 2 {
		return cli.ShowSubcommandHelp(c)
	}

	ctx := c.Context
	localPath, uploadURL := c.Args().Get(0), c.Args().Get(1)

	id, err := s.manager.BreakpointUpload(ctx, localPath, uploadURL)
	if err != nil {
		s.notify(ctx, fmt.Sprintf("❌ Upload of **%s** failed: %v", localPath, err))

		return err
	}

	s.notify(ctx, fmt.Sprintf("✅ Upload finished: **%s** (%s)", localPath, id))
	fmt.Fprintln(c.App.Writer, id)

	return nil
}

func (s *services) notify(ctx context.Context, content string) {
	if err := s.notifier.Notify(context.WithoutCancel(ctx), content); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to send notification", "err", err)
	}
}

func status(c *cli.Context, s *services) error {
	if s.journal == nil {
		return errors.New("transfer journal is disabled, set JOURNAL_PATH")
	}

	ctx := c.Context

	records, err := s.journal.GetTransfers(ctx)
	if st := c.String("status"); st != "" {
		records, err = s.journal.GetTransfersByStatus(ctx, st)
	}

	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRANSFER\tDIRECTION\tSTATUS\tPROGRESS\tUPDATED\tERROR")

	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s / %s\t%s\t%s\n",
			rec.TransferID,
			rec.Direction,
			rec.Status,
			humanize.IBytes(uint64(rec.ProcessedSize)),
			humanize.IBytes(uint64(rec.TotalSize)),
			humanize.Time(rec.UpdatedAt),
			rec.Error,
		)
	}

	return w.Flush()
}

func serve(c *cli.Context, s *services) error {
	ctx := c.Context
	logger := logctx.LoggerFromContext(ctx)
	cfg := s.cfg

	// =========================================================================
	// Start API Service
	// merges run per request, so they get no progress bar
	codec, err := chunk.NewCodec(cfg.ChunkSizeBytes(), chunk.WithBufferSize(cfg.BufferSize))
	if err != nil {
		return err
	}

	receiver := rest.NewReceiverHandler(
		cfg.Web.StorageDir,
		cfg.Web.Token,
		cfg.Algorithm(),
		hasher.New(cfg.BufferSize),
		codec,
		s.telemetry,
	)

	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		Handler:      rest.NewRouter(s.telemetry, receiver),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress, "storage_dir", cfg.Web.StorageDir)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		s.cleaner.Run(gctx, cfg.CleanupInterval)

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown started")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()

			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		logger.Info("shutdown complete")

		return nil
	})

	return g.Wait()
}
