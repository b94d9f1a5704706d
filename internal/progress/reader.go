package progress

import "io"

// Reader wraps an io.Reader and reports cumulative progress every interval bytes
// and once more when the underlying reader reaches EOF.
type Reader struct {
	reader     io.Reader
	total      int64
	interval   int64
	desc       string
	onProgress ProcessFunc

	read       int64
	lastReport int64
	done       bool
}

// NewReader wraps r. A nil callback disables reporting.
func NewReader(r io.Reader, total, interval int64, desc string, cb ProcessFunc) *Reader {
	if interval <= 0 {
		interval = 1
	}

	return &Reader{
		reader:     r,
		total:      total,
		interval:   interval,
		desc:       desc,
		onProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		if pr.read-pr.lastReport >= pr.interval {
			pr.report()
		}
	}

	if err == io.EOF && !pr.done {
		pr.done = true
		if pr.read != pr.lastReport || pr.read == 0 {
			pr.report()
		}
	}

	return n, err
}

// BytesRead is the number of bytes consumed so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}

func (pr *Reader) report() {
	pr.lastReport = pr.read
	if pr.onProgress == nil {
		return
	}

	pr.onProgress(Process{ProcessedSize: pr.read, TotalSize: pr.total, StatusDescription: pr.desc})
}
