package transfer

import (
	"context"

	"github.com/italolelis/resumable_transfer/internal/telemetry"
)

// InstrumentedTransport wraps Transport with telemetry.
type InstrumentedTransport struct {
	transport     Transport
	telemetry     *telemetry.Telemetry
	transportType string
}

// NewInstrumentedTransport creates a new instrumented transport.
func NewInstrumentedTransport(t Transport, tel *telemetry.Telemetry, transportType string) *InstrumentedTransport {
	return &InstrumentedTransport{
		transport:     t,
		telemetry:     tel,
		transportType: transportType,
	}
}

// GetRange opens a ranged stream with telemetry. Only the request is measured, not the
// consumption of the body.
func (t *InstrumentedTransport) GetRange(ctx context.Context, url string, offset, end int64) (*StreamResponse, error) {
	var result *StreamResponse

	var err error

	instrumentedErr := t.telemetry.InstrumentTransportOperation(ctx, t.transportType, "get_range", func(ctx context.Context) error {
		result, err = t.transport.GetRange(ctx, url, offset, end)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// SendChunk posts a chunk with telemetry.
func (t *InstrumentedTransport) SendChunk(ctx context.Context, url string, chunk ChunkUpload) (*Response, error) {
	var result *Response

	var err error

	instrumentedErr := t.telemetry.InstrumentTransportOperation(ctx, t.transportType, "send_chunk", func(ctx context.Context) error {
		result, err = t.transport.SendChunk(ctx, url, chunk)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// NotifyMerge sends the merge notification with telemetry.
func (t *InstrumentedTransport) NotifyMerge(ctx context.Context, url string, req MergeRequest) (*Response, error) {
	var result *Response

	var err error

	instrumentedErr := t.telemetry.InstrumentTransportOperation(ctx, t.transportType, "notify_merge", func(ctx context.Context) error {
		result, err = t.transport.NotifyMerge(ctx, url, req)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
