package transcode

import (
	"fmt"
	"io"
	"sync"

	"screen-hr-sync/internal/models"
)

// progressReporter turns consumed input bytes into converting-stage progress.
// Reading all input does not mean encoding finished, so reads cap at 99 and
// finish reports 100.
type progressReporter struct {
	mu     sync.Mutex
	total  int
	read   int
	last   int
	report func(models.ConversionProgress)
}

func newProgressReporter(total int, report func(models.ConversionProgress)) *progressReporter {
	return &progressReporter{total: total, last: -1, report: report}
}

func (p *progressReporter) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(0)
}

func (p *progressReporter) advance(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.read += n
	percent := 99
	if p.total > 0 && p.read < p.total {
		percent = p.read * 100 / p.total
		if percent > 99 {
			percent = 99
		}
	}
	p.emitLocked(percent)
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(100)
}

func (p *progressReporter) emitLocked(percent int) {
	if percent <= p.last {
		return
	}
	p.last = percent
	p.report(models.ConversionProgress{
		Stage:    models.StageConverting,
		Progress: percent,
		Message:  fmt.Sprintf("converting video... %d%%", percent),
	})
}

// countingReader reports every successful read to onRead
type countingReader struct {
	r      io.Reader
	onRead func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(n)
	}
	return n, err
}
