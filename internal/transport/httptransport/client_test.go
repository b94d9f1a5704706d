package httptransport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/resumable_transfer/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRange_PartialContent(t *testing.T) {
	content := []byte("0123456789abcdefghijklmno")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer server.Close()

	c := New()

	resp, err := c.GetRange(context.Background(), server.URL, 10, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.True(t, resp.IsPartial())
	assert.Equal(t, int64(25), resp.TotalSize)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content[10:], body)
}

func TestGetRange_SendsBoundedRange(t *testing.T) {
	var gotRange string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := New().GetRange(context.Background(), server.URL, 5, 24)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "bytes=5-24", gotRange)
}

func TestGetRange_TokenIsSent(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	resp, err := New(WithToken("secret")).GetRange(context.Background(), server.URL, 0, -1)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestSendChunk_MultipartFields(t *testing.T) {
	dir := t.TempDir()
	chunkPath := filepath.Join(dir, "file.chunk-2")
	require.NoError(t, os.WriteFile(chunkPath, []byte("abcde"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "id-1", r.FormValue(transfer.FieldFileID))
		assert.Equal(t, "2", r.FormValue(transfer.FieldChunkIndex))
		assert.Equal(t, "3", r.FormValue(transfer.FieldTotalChunks))

		f, header, err := r.FormFile(transfer.FieldChunkFile)
		require.NoError(t, err)
		defer f.Close()

		data, _ := io.ReadAll(f)
		assert.Equal(t, "abcde", string(data))
		assert.Equal(t, "file.chunk-2", header.Filename)

		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	resp, err := New().SendChunk(context.Background(), server.URL, transfer.ChunkUpload{
		FileID: "id-1", Index: 2, TotalChunks: 3, Path: chunkPath, Size: 5,
	})
	require.NoError(t, err)

	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "ok", string(resp.Body))
}

func TestSendChunk_MissingFileIsNotFound(t *testing.T) {
	resp, err := New().SendChunk(context.Background(), "http://127.0.0.1:1", transfer.ChunkUpload{
		Path: filepath.Join(t.TempDir(), "missing"),
	})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, transfer.KindNotFound, transfer.KindOf(err))
}

func TestNotifyMerge_Form(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "id-1", r.PostFormValue(transfer.FieldFileID))
		assert.Equal(t, "4", r.PostFormValue(transfer.FieldTotalChunks))
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	resp, err := New().NotifyMerge(context.Background(), server.URL, transfer.MergeRequest{FileID: "id-1", TotalChunks: 4})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, resp.IsSuccess())
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte("merged"))
	}))
	defer server.Close()

	c := New(WithMaxRetries(3), WithRetryInterval(time.Millisecond))

	resp, err := c.NotifyMerge(context.Background(), server.URL, transfer.MergeRequest{FileID: "x", TotalChunks: 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhaustedReturnsLastResponse(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(WithMaxRetries(1), WithRetryInterval(time.Millisecond))

	resp, err := c.NotifyMerge(context.Background(), server.URL, transfer.MergeRequest{FileID: "x", TotalChunks: 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "boom")
	assert.Equal(t, int32(2), calls.Load())
}

func TestTransportErrorIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := New().GetRange(context.Background(), url, 0, -1)
	require.Error(t, err)
	assert.Equal(t, transfer.KindNetwork, transfer.KindOf(err))
}

func TestCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().GetRange(ctx, server.URL, 0, -1)
	require.Error(t, err)
	assert.Equal(t, transfer.KindCancelled, transfer.KindOf(err))
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		header string
		want   int64
	}{
		{"bytes 0-9/25", 25},
		{"bytes */25", 25},
		{"bytes 0-9/*", -1},
		{"", -1},
		{"items 0-9/25", -1},
		{"bytes 0-9/abc", -1},
	}

	for _, tt := range tests {
		if got := parseContentRangeTotal(tt.header); got != tt.want {
			t.Errorf("parseContentRangeTotal(%q) = %d, want %d", tt.header, got, tt.want)
		}
	}
}
