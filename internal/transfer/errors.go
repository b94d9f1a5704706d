package transfer

import (
	"context"
	"errors"
	"fmt"
)

// NotFoundError is returned when a source file or chunk directory does not exist.
type NotFoundError struct {
	Path string // The missing file or directory
	Err  error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// IncompleteDataError is returned by merge when the chunk set on disk does not match
// the expected chunk count.
type IncompleteDataError struct {
	ChunkDir string // Directory that was scanned
	Expected int    // Number of chunks the caller asked for
	Actual   int    // Number of usable chunks found
	Reason   string // Optional detail, e.g. a duplicated index
}

func (e *IncompleteDataError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("incomplete chunk data in %s: %s", e.ChunkDir, e.Reason)
	}

	return fmt.Sprintf("incomplete chunk data in %s: expected %d chunks, found %d", e.ChunkDir, e.Expected, e.Actual)
}

// CorruptionError describes a persisted progress record that could not be decoded or
// violates its invariants. Stores recover from it by discarding the record.
type CorruptionError struct {
	ID   string // Transfer identity, when known
	Path string // Location of the record
	Err  error  // Decode or validation error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt transfer progress at %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// NetworkError represents transport failures and non-success responses from the
// remote party.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "get_range", "send_chunk")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the remote or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// CancelledError is returned when the caller's context ends an operation at a
// chunk or buffer boundary.
type CancelledError struct {
	Operation string
	Err       error // context.Canceled or context.DeadlineExceeded
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Operation, e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// TransferError is the failure surfaced by a resumable download or upload. It carries
// the identity and the persisted progress at the time of failure.
type TransferError struct {
	Direction     Direction
	ID            string
	ProcessedSize int64
	TotalSize     int64
	Err           error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s interrupted at %d/%d bytes: %v", e.Direction, e.ID, e.ProcessedSize, e.TotalSize, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Kind is the enumerated failure category of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindIncompleteData
	KindCorruption
	KindNetwork
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindIncompleteData:
		return "incomplete_data"
	case KindCorruption:
		return "corruption"
	case KindNetwork:
		return "network"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Context errors that were not wrapped in a CancelledError
// still classify as KindCancelled.
func KindOf(err error) Kind {
	var (
		notFound   *NotFoundError
		incomplete *IncompleteDataError
		corrupt    *CorruptionError
		network    *NetworkError
		cancelled  *CancelledError
	)

	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &cancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &incomplete):
		return KindIncompleteData
	case errors.As(err, &corrupt):
		return KindCorruption
	case errors.As(err, &network):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Cancelled wraps ctx.Err() when ctx is done, otherwise returns nil.
func Cancelled(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return &CancelledError{Operation: operation, Err: err}
	}

	return nil
}
