package progress

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// Status is the lifecycle state of a resumable transfer.
type Status int

const (
	StatusNotStarted Status = iota
	StatusInProgress
	StatusCompleted
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	ErrInvalidRecord   = errors.New("invalid transfer progress")
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrSizeExceeded    = errors.New("processed size exceeds total size")
)

// TransferProgress is the persisted state of one resumable transfer.
// CompletedChunkIndexes is only meaningful for uploads and is kept sorted.
type TransferProgress struct {
	ID                    string        `json:"fileId"`
	TotalSize             int64         `json:"totalSize"`
	ProcessedSize         int64         `json:"processedSize"`
	ChunkSize             int64         `json:"chunkSize"`
	CompletedChunkIndexes []int         `json:"completedChunkIndexes"`
	LastProcessTime       time.Time     `json:"lastProcessTime"`
	Status                Status        `json:"status"`
	Duration              time.Duration `json:"duration"`
}

// New returns a fresh NotStarted record.
func New(id string, totalSize, chunkSize int64) *TransferProgress {
	return &TransferProgress{
		ID:                    id,
		TotalSize:             totalSize,
		ChunkSize:             chunkSize,
		CompletedChunkIndexes: []int{},
		LastProcessTime:       time.Now().UTC(),
		Status:                StatusNotStarted,
	}
}

// TotalChunks is ceil(TotalSize / ChunkSize).
func (p *TransferProgress) TotalChunks() int {
	if p.ChunkSize <= 0 || p.TotalSize <= 0 {
		return 0
	}

	return int((p.TotalSize + p.ChunkSize - 1) / p.ChunkSize)
}

// ChunkLength returns the byte length of chunk i.
func (p *TransferProgress) ChunkLength(i int) int64 {
	if i < 0 || i >= p.TotalChunks() {
		return 0
	}

	start := int64(i) * p.ChunkSize

	return min(p.ChunkSize, p.TotalSize-start)
}

func (p *TransferProgress) HasChunk(i int) bool {
	_, found := slices.BinarySearch(p.CompletedChunkIndexes, i)

	return found
}

func (p *TransferProgress) IsCompleted() bool {
	return p.Status == StatusCompleted
}

// CompleteChunk records chunk i as transferred and advances ProcessedSize by its length.
// Recording a chunk twice is a no-op.
func (p *TransferProgress) CompleteChunk(i int) error {
	if i < 0 || i >= p.TotalChunks() {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrChunkOutOfRange, i, p.TotalChunks())
	}

	pos, found := slices.BinarySearch(p.CompletedChunkIndexes, i)
	if found {
		return nil
	}

	if err := p.Advance(p.ChunkLength(i)); err != nil {
		return err
	}

	p.CompletedChunkIndexes = slices.Insert(p.CompletedChunkIndexes, pos, i)

	return nil
}

// Advance adds n processed bytes. When the total is still unknown (zero) the
// bound is not enforced.
func (p *TransferProgress) Advance(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: negative advance %d", ErrInvalidRecord, n)
	}

	if p.TotalSize > 0 && p.ProcessedSize+n > p.TotalSize {
		return fmt.Errorf("%w: %d + %d > %d", ErrSizeExceeded, p.ProcessedSize, n, p.TotalSize)
	}

	p.ProcessedSize += n
	p.Status = StatusInProgress
	p.Touch()

	return nil
}

// Touch updates the last process time.
func (p *TransferProgress) Touch() {
	p.LastProcessTime = time.Now().UTC()
}

// AddDuration accumulates active transfer time.
func (p *TransferProgress) AddDuration(d time.Duration) {
	if d > 0 {
		p.Duration += d
	}
}

func (p *TransferProgress) MarkCompleted() {
	p.Status = StatusCompleted
	p.Touch()
}

func (p *TransferProgress) MarkInterrupted() {
	p.Status = StatusInterrupted
	p.Touch()
}

// Percent of processed bytes, rounded to two decimals.
func (p *TransferProgress) Percent() float64 {
	return percent(p.ProcessedSize, p.TotalSize)
}

// Process projects the record to a Process snapshot.
func (p *TransferProgress) Process() Process {
	return Process{
		ProcessedSize:     p.ProcessedSize,
		TotalSize:         p.TotalSize,
		StatusDescription: p.Status.String(),
	}
}

// Validate checks the record invariants. A record that fails validation is
// treated as corrupt by the stores.
func (p *TransferProgress) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	case p.TotalSize < 0 || p.ProcessedSize < 0:
		return fmt.Errorf("%w: negative size", ErrInvalidRecord)
	case p.TotalSize > 0 && p.ProcessedSize > p.TotalSize:
		return fmt.Errorf("%w: processed %d > total %d", ErrInvalidRecord, p.ProcessedSize, p.TotalSize)
	case p.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size %d", ErrInvalidRecord, p.ChunkSize)
	case p.Status < StatusNotStarted || p.Status > StatusInterrupted:
		return fmt.Errorf("%w: unknown status %d", ErrInvalidRecord, int(p.Status))
	}

	total := p.TotalChunks()
	for _, i := range p.CompletedChunkIndexes {
		if i < 0 || i >= total {
			return fmt.Errorf("%w: chunk index %d not in [0,%d)", ErrInvalidRecord, i, total)
		}
	}

	if p.Status == StatusCompleted && p.TotalSize > 0 && p.ProcessedSize != p.TotalSize {
		return fmt.Errorf("%w: completed with %d of %d bytes", ErrInvalidRecord, p.ProcessedSize, p.TotalSize)
	}

	return nil
}

// Normalize sorts and deduplicates the completed chunk set.
func (p *TransferProgress) Normalize() {
	if p.CompletedChunkIndexes == nil {
		p.CompletedChunkIndexes = []int{}

		return
	}

	slices.Sort(p.CompletedChunkIndexes)
	p.CompletedChunkIndexes = slices.Compact(p.CompletedChunkIndexes)
}

func (p *TransferProgress) Clone() *TransferProgress {
	c := *p
	c.CompletedChunkIndexes = slices.Clone(p.CompletedChunkIndexes)

	return &c
}

// Process is a point-in-time progress report for a long-running operation.
type Process struct {
	ProcessedSize     int64
	TotalSize         int64
	StatusDescription string
}

// Percent of processed bytes, rounded to two decimals; 0 when the total is unknown.
func (p Process) Percent() float64 {
	return percent(p.ProcessedSize, p.TotalSize)
}

// ProcessFunc receives progress reports from split, merge and hashing.
type ProcessFunc func(Process)

// TransferFunc receives a snapshot of the transfer record after every persisted mutation.
type TransferFunc func(TransferProgress)

func percent(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}

	return math.Round(float64(processed)/float64(total)*100*100) / 100
}
