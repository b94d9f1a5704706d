package telemetry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/italolelis/resumable_transfer/internal/logctx"
)

// HTTPLogging hands handlers a logger tagged with the request id and logs one line per
// request once it is served. Server errors log at ERROR, client errors at WARN.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logger := logctx.LoggerFromContext(r.Context())
		if id := GetRequestID(r.Context()); id != "" {
			logger = logger.With("request_id", id)
		}

		ctx := logctx.WithLogger(r.Context(), logger)
		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r.WithContext(ctx))

		level := slog.LevelInfo

		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case rec.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		logger.Log(ctx, level, "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"route", routePattern(r),
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
