package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_transfer/internal/chunk"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

// Upload sends localPath to uploadURL in chunks and asks the remote to merge them.
// Chunks acknowledged by a previous attempt are skipped. It returns the transfer
// identity, the content digest of the file.
func (o *Orchestrator) Upload(ctx context.Context, localPath, uploadURL string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &transfer.NotFoundError{Path: localPath, Err: err}
		}

		return "", fmt.Errorf("failed to stat upload source: %w", err)
	}

	if info.IsDir() {
		return "", fmt.Errorf("upload source %s is a directory", localPath)
	}

	id, err := o.hasher.ComputeDigest(ctx, localPath, o.algorithm)
	if err != nil {
		return "", fmt.Errorf("failed to compute upload identity: %w", err)
	}

	ctx = logctx.WithTransferID(ctx, id)
	logger := logctx.LoggerFromContext(ctx)

	p, err := o.store.GetOrCreate(ctx, id, localPath, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to load transfer progress: %w", err)
	}

	if p.IsCompleted() {
		logger.DebugContext(ctx, "upload already completed", "local_path", localPath)

		return id, nil
	}

	if len(p.CompletedChunkIndexes) > 0 {
		logger.InfoContext(ctx, "resuming upload",
			"local_path", localPath,
			"completed_chunks", len(p.CompletedChunkIndexes),
			"total_chunks", p.TotalChunks(),
		)
	}

	watch := newStopwatch()

	err = o.telemetry.InstrumentTransfer(ctx, string(transfer.DirectionUpload), func(ctx context.Context) error {
		return o.upload(ctx, localPath, uploadURL, p, watch)
	})
	if err != nil {
		p.AddDuration(watch.lap())

		return "", o.fail(ctx, transfer.DirectionUpload, p, localPath, uploadURL, err)
	}

	o.record(ctx, transfer.DirectionUpload, p, localPath, uploadURL, nil)

	logger.InfoContext(ctx, "upload completed",
		"local_path", localPath,
		"size", humanize.Bytes(uint64(p.TotalSize)),
		"chunks", p.TotalChunks(),
		"duration", p.Duration,
	)

	return id, nil
}

func (o *Orchestrator) upload(ctx context.Context, localPath, uploadURL string, p *progress.TransferProgress, watch *stopwatch) error {
	logger := logctx.LoggerFromContext(ctx)
	scratch := ScratchDir(o.scratchDir, p.ID)

	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			o.telemetry.RecordSystemError("orchestrator", "scratch_dir_removal")
			logger.WarnContext(ctx, "failed to remove upload scratch directory", "dir", scratch, "err", err)
		}
	}()

	codec, err := chunk.NewCodec(p.ChunkSize, chunk.WithBufferSize(o.bufferSize))
	if err != nil {
		return err
	}

	chunks, err := codec.Split(ctx, localPath, scratch)
	if err != nil {
		return fmt.Errorf("failed to split upload source: %w", err)
	}

	totalChunks := p.TotalChunks()
	if len(chunks) != totalChunks {
		return fmt.Errorf("split produced %d chunks, expected %d", len(chunks), totalChunks)
	}

	for _, c := range chunks {
		if p.HasChunk(c.Index) {
			continue
		}

		if err := transfer.Cancelled(ctx, "upload"); err != nil {
			return err
		}

		if err := o.sendChunk(ctx, uploadURL, p.ID, totalChunks, c); err != nil {
			return err
		}

		if err := p.CompleteChunk(c.Index); err != nil {
			return err
		}

		p.AddDuration(watch.lap())
		o.telemetry.RecordTransferredBytes(string(transfer.DirectionUpload), c.Size)

		if err := o.save(ctx, p); err != nil {
			return err
		}

		logger.DebugContext(ctx, "chunk uploaded", "index", c.Index, "size", humanize.Bytes(uint64(c.Size)))
	}

	if err := transfer.Cancelled(ctx, "upload"); err != nil {
		return err
	}

	resp, err := o.transport.NotifyMerge(ctx, transfer.MergeURL(uploadURL), transfer.MergeRequest{
		FileID:      p.ID,
		TotalChunks: totalChunks,
	})
	if err != nil {
		return err
	}

	if !resp.IsSuccess() {
		return &transfer.NetworkError{
			Operation:  "notify_merge",
			StatusCode: resp.StatusCode,
			APIMessage: responseMessage(resp),
		}
	}

	p.MarkCompleted()
	p.AddDuration(watch.lap())

	return o.save(ctx, p)
}

func (o *Orchestrator) sendChunk(ctx context.Context, uploadURL, id string, totalChunks int, c chunk.Descriptor) error {
	resp, err := o.transport.SendChunk(ctx, uploadURL, transfer.ChunkUpload{
		FileID:      id,
		Index:       c.Index,
		TotalChunks: totalChunks,
		Path:        c.Path,
		Size:        c.Size,
	})
	if err != nil {
		o.telemetry.RecordChunk(string(transfer.DirectionUpload), "error")

		return err
	}

	if !resp.IsSuccess() {
		o.telemetry.RecordChunk(string(transfer.DirectionUpload), "error")

		return &transfer.NetworkError{
			Operation:  "send_chunk",
			StatusCode: resp.StatusCode,
			APIMessage: responseMessage(resp),
		}
	}

	o.telemetry.RecordChunk(string(transfer.DirectionUpload), "success")

	return nil
}

func responseMessage(resp *transfer.Response) string {
	body := resp.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	return string(body)
}
