package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CARDINALITY:
//
// Span attributes and metric labels must stay bounded. Never add transfer identities,
// digests, file paths, URLs or error messages as attributes; they belong in logs
// (see logctx.WithTransferID) and in span status.
//
// Bounded values used here:
// - direction ("download", "upload", "receive")
// - status ("success", "error")
// - transport type ("http")
// - store backend ("file", "badger")
// - fixed operation names ("get_range", "send_chunk", "save", ...)

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if !t.enabled() {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", statusOf(err)),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments journal database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if !t.enabled() {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentStoreOperation instruments progress store operations.
func (t *Telemetry) InstrumentStoreOperation(ctx context.Context, backend, operation string, fn InstrumentedFunc) error {
	if !t.enabled() {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "store_"+operation, "progress_store", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "store_"+operation)
		defer span.End()

		span.SetAttributes(attribute.String("store.backend", backend))

		return fn(ctx)
	})

	t.RecordStoreOperation(backend, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentTransportOperation instruments transport requests.
func (t *Telemetry) InstrumentTransportOperation(ctx context.Context, transport, operation string, fn InstrumentedFunc) error {
	if !t.enabled() {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "transport_"+operation, "transport", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "transport_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("transport.type", transport),
			attribute.String("transport.operation", operation),
		)

		return fn(ctx)
	})

	t.RecordTransportOperation(transport, operation, statusOf(err))

	return err
}

// InstrumentTransfer instruments one download or upload attempt.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, direction string, fn InstrumentedFunc) error {
	if !t.enabled() {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveTransfers(direction)
	defer t.DecrementActiveTransfers(direction)

	err := t.InstrumentOperation(ctx, "transfer_"+direction, "orchestrator", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "transfer")
		defer span.End()

		span.SetAttributes(attribute.String("transfer.direction", direction))

		return fn(ctx)
	})

	t.RecordTransfer(direction, statusOf(err), time.Since(start))

	return err
}
