package transfer

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// Direction of a resumable transfer.
type Direction string

const (
	DirectionDownload Direction = "download"
	DirectionUpload   Direction = "upload"
)

// Transport is the request/response boundary the orchestrator talks to. Retry and
// circuit-breaking policies belong to implementations, never to callers.
//
// A returned error means the request could not be completed at the transport level.
// Non-success HTTP statuses are reported through the response.
type Transport interface {
	// GetRange requests bytes [offset, end] of url. end < 0 requests everything from offset.
	GetRange(ctx context.Context, url string, offset, end int64) (*StreamResponse, error)
	// SendChunk posts one chunk file as a multipart form.
	SendChunk(ctx context.Context, url string, chunk ChunkUpload) (*Response, error)
	// NotifyMerge asks the remote party to reassemble an uploaded file.
	NotifyMerge(ctx context.Context, url string, req MergeRequest) (*Response, error)
}

// StreamResponse is a streamed body returned by GetRange. The caller owns Body.
type StreamResponse struct {
	StatusCode    int
	Body          io.ReadCloser
	ContentLength int64 // -1 when unknown
	TotalSize     int64 // full resource size from Content-Range, -1 when unknown
}

func (r *StreamResponse) IsSuccess() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// IsPartial reports whether the remote honoured the range request.
func (r *StreamResponse) IsPartial() bool {
	return r.StatusCode == http.StatusPartialContent
}

// Response is a fully-read, small response body.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// ChunkUpload describes one chunk file on disk. Transports open Path themselves so the
// body can be replayed on retry.
type ChunkUpload struct {
	FileID      string
	Index       int
	TotalChunks int
	Path        string
	Size        int64
}

// MergeRequest is the final notification of a chunked upload.
type MergeRequest struct {
	FileID      string
	TotalChunks int
}

// Multipart and form field names shared by the transport and the chunk receiver.
const (
	FieldChunkFile   = "chunkFile"
	FieldFileID      = "fileId"
	FieldChunkIndex  = "chunkIndex"
	FieldTotalChunks = "totalChunks"

	MergePath = "/merge"
)

// MergeURL derives the merge endpoint of a chunk upload endpoint.
func MergeURL(uploadURL string) string {
	return strings.TrimRight(uploadURL, "/") + MergePath
}
