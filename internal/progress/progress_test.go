package progress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessPercent(t *testing.T) {
	tests := []struct {
		name      string
		processed int64
		total     int64
		want      float64
	}{
		{name: "unknown total", processed: 10, total: 0, want: 0},
		{name: "half", processed: 50, total: 100, want: 50},
		{name: "rounded to two decimals", processed: 1, total: 3, want: 33.33},
		{name: "rounds up", processed: 2, total: 3, want: 66.67},
		{name: "complete", processed: 25, total: 25, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Process{ProcessedSize: tt.processed, TotalSize: tt.total}
			assert.InDelta(t, tt.want, p.Percent(), 0.0001)
		})
	}
}

func TestTransferProgress_TotalChunks(t *testing.T) {
	p := New("id", 25, 10)

	assert.Equal(t, 3, p.TotalChunks())
	assert.Equal(t, int64(10), p.ChunkLength(0))
	assert.Equal(t, int64(10), p.ChunkLength(1))
	assert.Equal(t, int64(5), p.ChunkLength(2))
	assert.Equal(t, int64(0), p.ChunkLength(3))

	empty := New("id", 0, 10)
	assert.Equal(t, 0, empty.TotalChunks())
}

func TestTransferProgress_CompleteChunk(t *testing.T) {
	p := New("id", 25, 10)

	require.NoError(t, p.CompleteChunk(2))
	require.NoError(t, p.CompleteChunk(0))
	require.NoError(t, p.CompleteChunk(0))

	assert.Equal(t, []int{0, 2}, p.CompletedChunkIndexes)
	assert.Equal(t, int64(15), p.ProcessedSize)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.True(t, p.HasChunk(2))
	assert.False(t, p.HasChunk(1))

	require.ErrorIs(t, p.CompleteChunk(3), ErrChunkOutOfRange)
	require.ErrorIs(t, p.CompleteChunk(-1), ErrChunkOutOfRange)

	require.NoError(t, p.CompleteChunk(1))
	assert.Equal(t, int64(25), p.ProcessedSize)
	require.NoError(t, p.Validate())
}

func TestTransferProgress_AdvanceBounded(t *testing.T) {
	p := New("id", 100, 10)

	require.NoError(t, p.Advance(60))
	require.ErrorIs(t, p.Advance(41), ErrSizeExceeded)
	assert.Equal(t, int64(60), p.ProcessedSize)

	unknown := New("id", 0, 10)
	require.NoError(t, unknown.Advance(1<<20))
}

func TestTransferProgress_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *TransferProgress)
		wantErr bool
	}{
		{name: "fresh record", mutate: func(*TransferProgress) {}},
		{name: "empty id", mutate: func(p *TransferProgress) { p.ID = "" }, wantErr: true},
		{name: "processed beyond total", mutate: func(p *TransferProgress) { p.ProcessedSize = 26 }, wantErr: true},
		{name: "zero chunk size", mutate: func(p *TransferProgress) { p.ChunkSize = 0 }, wantErr: true},
		{name: "unknown status", mutate: func(p *TransferProgress) { p.Status = 9 }, wantErr: true},
		{name: "index out of range", mutate: func(p *TransferProgress) { p.CompletedChunkIndexes = []int{3} }, wantErr: true},
		{name: "completed but short", mutate: func(p *TransferProgress) { p.Status = StatusCompleted; p.ProcessedSize = 20 }, wantErr: true},
		{name: "completed", mutate: func(p *TransferProgress) { p.Status = StatusCompleted; p.ProcessedSize = 25 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("id", 25, 10)
			tt.mutate(p)

			err := p.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRecord)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTransferProgress_NormalizeAndClone(t *testing.T) {
	p := New("id", 100, 10)
	p.CompletedChunkIndexes = []int{4, 1, 4, 0}
	p.Normalize()

	assert.Equal(t, []int{0, 1, 4}, p.CompletedChunkIndexes)

	c := p.Clone()
	c.CompletedChunkIndexes[0] = 9
	assert.Equal(t, 0, p.CompletedChunkIndexes[0])

	var nilSet TransferProgress
	nilSet.Normalize()
	assert.NotNil(t, nilSet.CompletedChunkIndexes)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "not_started", StatusNotStarted.String())
	assert.Equal(t, "in_progress", StatusInProgress.String())
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "interrupted", StatusInterrupted.String())
	assert.Equal(t, "status(7)", Status(7).String())
}

func TestReader_ReportsAtIntervalAndEOF(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 25)

	var reports []Process

	r := NewReader(bytes.NewReader(data), 25, 10, "hashing", func(p Process) {
		reports = append(reports, p)
	})

	buf := make([]byte, 5)
	n, err := io.CopyBuffer(struct{ io.Writer }{io.Discard}, r, buf)
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)
	assert.Equal(t, int64(25), r.BytesRead())

	require.Len(t, reports, 3)
	assert.Equal(t, int64(10), reports[0].ProcessedSize)
	assert.Equal(t, int64(20), reports[1].ProcessedSize)
	assert.Equal(t, int64(25), reports[2].ProcessedSize)
	assert.Equal(t, "hashing", reports[2].StatusDescription)
}

func TestReader_EmptyInputReportsOnce(t *testing.T) {
	var calls int

	r := NewReader(bytes.NewReader(nil), 0, 10, "", func(Process) { calls++ })

	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
