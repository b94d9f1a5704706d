package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/resumable_transfer/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter mounts the receiver next to the health and metrics endpoints, behind the
// request id, logging and metrics middlewares.
func NewRouter(tel *telemetry.Telemetry, receiver *ReceiverHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", receiver.Routes())

	return otelhttp.NewHandler(r, "receiver")
}
