package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

const maxErrorBody = 512

// Download fetches url into localPath, resuming from the persisted offset of a previous
// attempt. The transfer identity is the absolute local path.
func (o *Orchestrator) Download(ctx context.Context, url, localPath string) (os.FileInfo, error) {
	absPath, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local path: %w", err)
	}

	ctx = logctx.WithTransferID(ctx, absPath)
	logger := logctx.LoggerFromContext(ctx)

	p, err := o.store.GetOrCreate(ctx, absPath, absPath, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load transfer progress: %w", err)
	}

	if p.IsCompleted() {
		logger.DebugContext(ctx, "download already completed", "local_path", absPath)

		return os.Stat(absPath)
	}

	if p.ProcessedSize > 0 {
		logger.InfoContext(ctx, "resuming download",
			"local_path", absPath,
			"offset", humanize.Bytes(uint64(p.ProcessedSize)),
			"total", humanize.Bytes(uint64(p.TotalSize)),
		)
	}

	watch := newStopwatch()

	err = o.telemetry.InstrumentTransfer(ctx, string(transfer.DirectionDownload), func(ctx context.Context) error {
		return o.download(ctx, url, absPath, p, watch)
	})
	if err != nil {
		p.AddDuration(watch.lap())

		return nil, o.fail(ctx, transfer.DirectionDownload, p, absPath, url, err)
	}

	o.record(ctx, transfer.DirectionDownload, p, absPath, url, nil)

	logger.InfoContext(ctx, "download completed",
		"local_path", absPath,
		"size", humanize.Bytes(uint64(p.ProcessedSize)),
		"duration", p.Duration,
	)

	return os.Stat(absPath)
}

func (o *Orchestrator) download(ctx context.Context, url, path string, p *progress.TransferProgress, watch *stopwatch) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	defer out.Close()

	// bytes written after the last persisted offset are not trusted
	if err := out.Truncate(p.ProcessedSize); err != nil {
		return fmt.Errorf("failed to truncate target file: %w", err)
	}

	if _, err := out.Seek(p.ProcessedSize, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek target file: %w", err)
	}

	if p.TotalSize > 0 && p.ProcessedSize == p.TotalSize {
		return o.completeDownload(ctx, out, p, watch)
	}

	if err := transfer.Cancelled(ctx, "download"); err != nil {
		return err
	}

	end := int64(-1)
	if p.TotalSize > 0 {
		end = p.TotalSize - 1
	}

	resp, err := o.transport.GetRange(ctx, url, p.ProcessedSize, end)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// the remote has nothing past what is already on disk
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && p.ProcessedSize > 0 && resp.TotalSize == p.ProcessedSize {
		p.TotalSize = p.ProcessedSize

		return o.completeDownload(ctx, out, p, watch)
	}

	if !resp.IsSuccess() {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return &transfer.NetworkError{
			Operation:  "get_range",
			StatusCode: resp.StatusCode,
			APIMessage: strings.TrimSpace(string(msg)),
		}
	}

	if !resp.IsPartial() && p.ProcessedSize > 0 {
		logger.WarnContext(ctx, "remote ignored the range request, skipping already stored bytes",
			"offset", p.ProcessedSize,
		)

		if _, err := io.CopyN(io.Discard, resp.Body, p.ProcessedSize); err != nil {
			return &transfer.NetworkError{
				Operation:  "get_range",
				APIMessage: "stream ended before the resume offset",
				Err:        err,
			}
		}
	}

	if resp.TotalSize > 0 {
		if resp.TotalSize < p.ProcessedSize {
			return &transfer.NetworkError{
				Operation:  "get_range",
				APIMessage: fmt.Sprintf("remote size %d is smaller than the stored %d bytes", resp.TotalSize, p.ProcessedSize),
			}
		}

		p.TotalSize = resp.TotalSize
	}

	if err := o.stream(ctx, resp.Body, out, p, watch); err != nil {
		return err
	}

	if p.TotalSize == 0 {
		p.TotalSize = p.ProcessedSize
	}

	if p.ProcessedSize < p.TotalSize {
		return &transfer.NetworkError{
			Operation:  "get_range",
			APIMessage: fmt.Sprintf("stream ended at %d of %d bytes", p.ProcessedSize, p.TotalSize),
			Err:        io.ErrUnexpectedEOF,
		}
	}

	return o.completeDownload(ctx, out, p, watch)
}

// stream copies body into out one buffer at a time, persisting the offset after every
// write.
func (o *Orchestrator) stream(ctx context.Context, body io.Reader, out io.Writer, p *progress.TransferProgress, watch *stopwatch) error {
	buf := make([]byte, o.bufferSize)

	for {
		if err := transfer.Cancelled(ctx, "download"); err != nil {
			return err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if p.TotalSize > 0 && p.ProcessedSize+int64(n) > p.TotalSize {
				return &transfer.NetworkError{
					Operation:  "get_range",
					APIMessage: fmt.Sprintf("remote sent more than the announced %d bytes", p.TotalSize),
				}
			}

			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write target file: %w", err)
			}

			if err := p.Advance(int64(n)); err != nil {
				return err
			}

			p.AddDuration(watch.lap())
			o.telemetry.RecordTransferredBytes(string(transfer.DirectionDownload), int64(n))

			if err := o.save(ctx, p); err != nil {
				return err
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}

		if readErr != nil {
			if err := transfer.Cancelled(ctx, "download"); err != nil {
				return err
			}

			return &transfer.NetworkError{Operation: "get_range", APIMessage: readErr.Error(), Err: readErr}
		}
	}
}

func (o *Orchestrator) completeDownload(ctx context.Context, out *os.File, p *progress.TransferProgress, watch *stopwatch) error {
	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync target file: %w", err)
	}

	p.MarkCompleted()
	p.AddDuration(watch.lap())

	return o.save(ctx, p)
}
