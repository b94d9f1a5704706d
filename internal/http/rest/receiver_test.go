package rest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/italolelis/resumable_transfer/internal/chunk"
	"github.com/italolelis/resumable_transfer/internal/hasher"
	"github.com/italolelis/resumable_transfer/internal/orchestrator"
	"github.com/italolelis/resumable_transfer/internal/storage/filestore"
	"github.com/italolelis/resumable_transfer/internal/transfer"
	"github.com/italolelis/resumable_transfer/internal/transport/httptransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReceiver(t *testing.T, token string) (*httptest.Server, string) {
	t.Helper()

	storageDir := t.TempDir()

	codec, err := chunk.NewCodec(chunk.DefaultChunkSize)
	require.NoError(t, err)

	h := NewReceiverHandler(storageDir, token, hasher.MD5, hasher.New(0), codec, nil)
	server := httptest.NewServer(NewRouter(nil, h))
	t.Cleanup(server.Close)

	return server, storageDir
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)

	return hex.EncodeToString(sum[:])
}

func postChunk(t *testing.T, serverURL, fileID, index, total string, data []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer

	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField(transfer.FieldFileID, fileID))
	require.NoError(t, mw.WriteField(transfer.FieldChunkIndex, index))
	require.NoError(t, mw.WriteField(transfer.FieldTotalChunks, total))

	part, err := mw.CreateFormFile(transfer.FieldChunkFile, "chunk")
	require.NoError(t, err)

	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(serverURL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)

	return resp
}

func postMerge(t *testing.T, serverURL, fileID, total string) *http.Response {
	t.Helper()

	resp, err := http.PostForm(serverURL+"/upload/merge", url.Values{
		transfer.FieldFileID:      {fileID},
		transfer.FieldTotalChunks: {total},
	})
	require.NoError(t, err)

	return resp
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	server, storageDir := newReceiver(t, "s3cret")

	content := bytes.Repeat([]byte("chunked transfer "), 100)
	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	store, err := filestore.New(t.TempDir(), 64)
	require.NoError(t, err)

	client := httptransport.New(httptransport.WithToken("s3cret"))
	o := orchestrator.New(store, client, orchestrator.WithScratchDir(t.TempDir()))

	id, err := o.Upload(ctx, src, server.URL+"/upload")
	require.NoError(t, err)
	assert.Equal(t, md5Hex(content), id)

	merged, err := os.ReadFile(filepath.Join(storageDir, filesDir, id))
	require.NoError(t, err)
	assert.Equal(t, content, merged)
	assert.NoDirExists(t, filepath.Join(storageDir, incomingDir, id))

	target := filepath.Join(t.TempDir(), "downloaded.bin")

	info, err := o.Download(ctx, server.URL+"/files/"+id, target)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size())

	downloaded, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)
}

func TestHandleMerge_IncompleteChunks(t *testing.T) {
	server, _ := newReceiver(t, "")
	id := md5Hex([]byte("abcdef"))

	resp := postChunk(t, server.URL, id, "0", "2", []byte("abc"))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postMerge(t, server.URL, id, "2")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body ReceiverResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body.Result)
	assert.Contains(t, body.Error, "expected 2 chunks, found 1")
}

func TestHandleMerge_DigestMismatch(t *testing.T) {
	server, storageDir := newReceiver(t, "")
	id := md5Hex([]byte("something else"))

	resp := postChunk(t, server.URL, id, "0", "1", []byte("abc"))
	resp.Body.Close()

	resp = postMerge(t, server.URL, id, "1")
	resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NoFileExists(t, filepath.Join(storageDir, filesDir, id))
}

func TestHandleMerge_NoChunks(t *testing.T) {
	server, _ := newReceiver(t, "")

	resp := postMerge(t, server.URL, "unknown", "3")
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleChunk_Validation(t *testing.T) {
	server, _ := newReceiver(t, "")

	tests := []struct {
		name   string
		fileID string
		index  string
		total  string
	}{
		{name: "path traversal", fileID: "../etc", index: "0", total: "1"},
		{name: "empty id", fileID: "", index: "0", total: "1"},
		{name: "negative index", fileID: "abc", index: "-1", total: "1"},
		{name: "index beyond total", fileID: "abc", index: "3", total: "3"},
		{name: "non numeric total", fileID: "abc", index: "0", total: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postChunk(t, server.URL, tt.fileID, tt.index, tt.total, []byte("data"))
			resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestTokenAuth(t *testing.T) {
	server, _ := newReceiver(t, "s3cret")

	resp := postMerge(t, server.URL, "abc", "1")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/files/abc", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleFile_Range(t *testing.T) {
	server, storageDir := newReceiver(t, "")
	require.NoError(t, os.MkdirAll(filepath.Join(storageDir, filesDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storageDir, filesDir, "abc"), []byte("0123456789"), 0o644))

	req, err := http.NewRequest(http.MethodGet, server.URL+"/files/abc", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=4-")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 4-9/10", resp.Header.Get("Content-Range"))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "456789", string(body))

	resp, err = http.Get(server.URL + "/files/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	server, _ := newReceiver(t, "")

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"d41d8cd98f00b204e9800998ecf8427e", true},
		{"file_name-1.bin", true},
		{"", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
		{strings.Repeat("a", maxIDLength+1), false},
	}

	for _, tt := range tests {
		if got := validID(tt.id); got != tt.want {
			t.Errorf("validID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
