package rest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/resumable_transfer/internal/chunk"
	"github.com/italolelis/resumable_transfer/internal/hasher"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/telemetry"
	"github.com/italolelis/resumable_transfer/internal/transfer"
)

const (
	incomingDir = "incoming"
	filesDir    = "files"

	dirPerm = 0o755

	// multipart parts beyond this are spooled to disk by net/http
	maxFormMemory = 8 << 20
	// form overhead allowed on top of the largest chunk
	maxFormOverhead = 1 << 20

	maxIDLength = 128
)

// ReceiverResponse is the JSON body of every receiver reply.
type ReceiverResponse struct {
	Result     string `json:"result"`
	FileID     string `json:"fileId,omitempty"`
	ChunkIndex *int   `json:"chunkIndex,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReceiverHandler is the remote side of a chunked upload: it stores chunks per file id,
// merges them on request and verifies the merged content against the file id.
type ReceiverHandler struct {
	storageDir string
	token      string
	algorithm  hasher.Algorithm
	hasher     *hasher.Hasher
	codec      *chunk.Codec
	telemetry  *telemetry.Telemetry
}

// NewReceiverHandler creates a receiver storing data under storageDir. An empty token
// disables authentication.
func NewReceiverHandler(
	storageDir, token string,
	alg hasher.Algorithm,
	h *hasher.Hasher,
	codec *chunk.Codec,
	t *telemetry.Telemetry,
) *ReceiverHandler {
	return &ReceiverHandler{
		storageDir: storageDir,
		token:      token,
		algorithm:  alg,
		hasher:     h,
		codec:      codec,
		telemetry:  t,
	}
}

func (h *ReceiverHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.tokenAuthMiddleware)

	r.Post("/upload", h.HandleChunk)
	r.Post("/upload"+transfer.MergePath, h.HandleMerge)
	r.Get("/files/{name}", h.HandleFile)

	return r
}

// HandleChunk stores one multipart chunk as incoming/<fileId>/<fileId>.chunk-<index>.
// Re-sending a chunk replaces it.
func (h *ReceiverHandler) HandleChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, chunk.MaxChunkSize+maxFormOverhead)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		logger.Error("failed to parse chunk form", "err", err)
		h.writeError(w, r, http.StatusBadRequest, "invalid multipart form")

		return
	}
	defer r.MultipartForm.RemoveAll()

	fileID := r.FormValue(transfer.FieldFileID)
	if !validID(fileID) {
		h.writeError(w, r, http.StatusBadRequest, "invalid fileId")

		return
	}

	index, err := strconv.Atoi(r.FormValue(transfer.FieldChunkIndex))
	if err != nil || index < 0 {
		h.writeError(w, r, http.StatusBadRequest, "invalid chunkIndex")

		return
	}

	total, err := strconv.Atoi(r.FormValue(transfer.FieldTotalChunks))
	if err != nil || total <= index {
		h.writeError(w, r, http.StatusBadRequest, "invalid totalChunks")

		return
	}

	part, _, err := r.FormFile(transfer.FieldChunkFile)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "missing chunkFile")

		return
	}
	defer part.Close()

	dir := filepath.Join(h.storageDir, incomingDir, fileID)

	size, err := storeChunk(dir, chunk.Name(fileID, index), part)
	if err != nil {
		logger.Error("failed to store chunk", "file_id", fileID, "index", index, "err", err)
		h.telemetry.RecordChunk("receive", "error")
		h.writeError(w, r, http.StatusInternalServerError, "failed to store chunk")

		return
	}

	h.telemetry.RecordChunk("receive", "success")
	h.telemetry.RecordTransferredBytes("receive", size)

	logger.Debug("chunk received", "file_id", fileID, "index", index, "total", total, "size", humanize.Bytes(uint64(size)))

	h.writeJSON(w, r, http.StatusOK, &ReceiverResponse{
		Result:     "success",
		FileID:     fileID,
		ChunkIndex: &index,
		Size:       size,
	})
}

// storeChunk writes r to a temp file in dir and renames it to name, so a merge never
// sees a partially received chunk.
func storeChunk(dir, name string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, ".receiving-*")
	if err != nil {
		return 0, err
	}

	size, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(tmp.Name())

		return 0, err
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())

		return 0, err
	}

	return size, nil
}

// HandleMerge assembles the received chunks into files/<fileId> and verifies that the
// content digest equals the file id.
func (h *ReceiverHandler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid form")

		return
	}

	fileID := r.PostFormValue(transfer.FieldFileID)
	if !validID(fileID) {
		h.writeError(w, r, http.StatusBadRequest, "invalid fileId")

		return
	}

	total, err := strconv.Atoi(r.PostFormValue(transfer.FieldTotalChunks))
	if err != nil || total < 0 {
		h.writeError(w, r, http.StatusBadRequest, "invalid totalChunks")

		return
	}

	chunkDir := filepath.Join(h.storageDir, incomingDir, fileID)
	target := filepath.Join(h.storageDir, filesDir, fileID)

	if total == 0 {
		// an empty upload produces no chunks, so there may be no directory either
		if err := os.MkdirAll(chunkDir, dirPerm); err != nil {
			h.writeError(w, r, http.StatusInternalServerError, "failed to prepare merge")

			return
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		logger.Error("failed to create files directory", "err", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to prepare merge")

		return
	}

	if err := h.codec.Merge(ctx, chunkDir, target, total); err != nil {
		logger.Error("failed to merge chunks", "file_id", fileID, "err", err)

		status, msg := formatReceiverError(err)
		h.writeError(w, r, status, msg)

		return
	}

	ok, err := h.hasher.VerifyDigest(ctx, target, fileID, h.algorithm)
	if err != nil || !ok {
		os.Remove(target)

		if err != nil {
			logger.Error("failed to verify merged file", "file_id", fileID, "err", err)
			h.writeError(w, r, http.StatusInternalServerError, "failed to verify merged file")

			return
		}

		logger.Warn("merged file does not match its id", "file_id", fileID, "algorithm", h.algorithm)
		h.writeError(w, r, http.StatusUnprocessableEntity, "digest mismatch")

		return
	}

	chunk.Clean(ctx, chunkDir)

	info, err := os.Stat(target)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "failed to stat merged file")

		return
	}

	logger.Info("upload merged", "file_id", fileID, "chunks", total, "size", humanize.Bytes(uint64(info.Size())))

	h.writeJSON(w, r, http.StatusOK, &ReceiverResponse{
		Result: "success",
		FileID: fileID,
		Size:   info.Size(),
	})
}

// HandleFile serves a merged file, honouring Range requests.
func (h *ReceiverHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validID(name) {
		h.writeError(w, r, http.StatusBadRequest, "invalid file name")

		return
	}

	f, err := os.Open(filepath.Join(h.storageDir, filesDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.writeError(w, r, http.StatusNotFound, "file not found")

			return
		}

		h.writeError(w, r, http.StatusInternalServerError, "failed to open file")

		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "failed to stat file")

		return
	}

	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *ReceiverHandler) tokenAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			next.ServeHTTP(w, r)

			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			h.writeError(w, r, http.StatusUnauthorized, "invalid authorization format")

			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
			h.writeError(w, r, http.StatusUnauthorized, "invalid token")

			return
		}

		next.ServeHTTP(w, r)
	})
}

// validID accepts the characters of hex digests and simple file names, which keeps ids
// from escaping the storage directory.
func validID(id string) bool {
	if id == "" || len(id) > maxIDLength || id == "." || id == ".." {
		return false
	}

	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}

	return true
}

// formatReceiverError maps merge failures to a status code and a client-facing message.
func formatReceiverError(err error) (int, string) {
	var incomplete *transfer.IncompleteDataError
	if errors.As(err, &incomplete) {
		return http.StatusConflict, incomplete.Error()
	}

	var notFound *transfer.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, "no chunks received for this file"
	}

	var cancelled *transfer.CancelledError
	if errors.As(err, &cancelled) {
		return http.StatusServiceUnavailable, "merge cancelled"
	}

	return http.StatusInternalServerError, fmt.Sprintf("merge failed: %v", err)
}

func (h *ReceiverHandler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, r, status, &ReceiverResponse{Result: "error", Error: msg})
}

func (h *ReceiverHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, resp *ReceiverResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
