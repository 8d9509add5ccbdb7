package reindex

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// progressTracker reports reindexing progress to a writer at a fixed
// item interval.
type progressTracker struct {
	writer         io.Writer
	total          int
	current        int
	reportInterval int
	lastReported   int
	startTime      time.Time
	mu             sync.Mutex
}

func newProgressTracker(writer io.Writer, total, reportInterval int) *progressTracker {
	return &progressTracker{
		writer:         writer,
		total:          total,
		reportInterval: reportInterval,
		startTime:      time.Now(),
	}
}

func (p *progressTracker) increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current += delta
	if p.current > p.total {
		p.current = p.total
	}
	if p.current-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.current
	}
}

// report assumes p.mu is held.
func (p *progressTracker) report() {
	elapsed := time.Since(p.startTime)
	rate := float64(p.current) / elapsed.Seconds()
	fmt.Fprintf(p.writer, "Progress: %d/%d (%.1f%%) - %.1f records/sec\n",
		p.current, p.total, float64(p.current)/float64(p.total)*100, rate)
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	fmt.Fprintf(p.writer, "Done: %d records in %s\n", p.current, elapsed.Round(time.Millisecond))
}
