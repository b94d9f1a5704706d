package main

import (
	"fmt"
	"os"
	"time"

	"github.com/italolelis/resumable_transfer/internal/progress"
	"github.com/schollz/progressbar/v3"
)

// progressRenderer draws one progress bar per phase (hashing, splitting, transfer).
type progressRenderer struct {
	enabled      bool
	transferDesc string

	bar  *progressbar.ProgressBar
	desc string
	max  int64
}

func newProgressRenderer(enabled bool, transferDesc string) *progressRenderer {
	return &progressRenderer{enabled: enabled, transferDesc: transferDesc}
}

func (r *progressRenderer) onProcess(p progress.Process) {
	r.render(p.StatusDescription, p.ProcessedSize, p.TotalSize)
}

func (r *progressRenderer) onTransfer(p progress.TransferProgress) {
	r.render(r.transferDesc, p.ProcessedSize, p.TotalSize)
}

func (r *progressRenderer) render(desc string, processed, total int64) {
	if !r.enabled {
		return
	}

	if total <= 0 {
		total = -1
	}

	if r.bar == nil || desc != r.desc {
		r.finish()
		r.bar = newBar(desc, total)
		r.desc = desc
		r.max = total
	}

	if total != r.max {
		r.bar.ChangeMax64(total)
		r.max = total
	}

	_ = r.bar.Set64(processed)
}

func (r *progressRenderer) finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}

func newBar(desc string, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
