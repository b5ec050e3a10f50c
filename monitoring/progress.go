package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// A ProgressBar follows a running workload. Each process moves from running
// to exited, and the page counters grow as user memory is written and read
// back.
type ProgressBar struct {
	mu sync.Mutex

	id        string
	name      string
	startTime time.Time
	total     uint64

	running       uint64
	exited        uint64
	failed        uint64
	pagesWritten  uint64
	pagesVerified uint64
}

// Progress is a copy of the counters of a ProgressBar.
type Progress struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	StartTime     time.Time `json:"start_time"`
	Total         uint64    `json:"total"`
	Running       uint64    `json:"running"`
	Exited        uint64    `json:"exited"`
	Failed        uint64    `json:"failed"`
	PagesWritten  uint64    `json:"pages_written"`
	PagesVerified uint64    `json:"pages_verified"`
}

// Done reports whether every expected process has exited.
func (p Progress) Done() bool {
	return p.Exited >= p.Total
}

// ProcessStarted counts a new running process.
func (b *ProgressBar) ProcessStarted() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.running++
}

// ProcessExited moves one running process to the exited ones.
func (b *ProgressBar) ProcessExited(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running == 0 {
		panic(fmt.Sprintf("progress bar %s: no process is running", b.name))
	}

	b.running--
	b.exited++

	if failed {
		b.failed++
	}
}

// AddPagesWritten counts pages stored to user memory.
func (b *ProgressBar) AddPagesWritten(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pagesWritten += n
}

// AddPagesVerified counts pages read back and found intact.
func (b *ProgressBar) AddPagesVerified(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pagesVerified += n
}

// Progress returns the current counters.
func (b *ProgressBar) Progress() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Progress{
		ID:            b.id,
		Name:          b.name,
		StartTime:     b.startTime,
		Total:         b.total,
		Running:       b.running,
		Exited:        b.exited,
		Failed:        b.failed,
		PagesWritten:  b.pagesWritten,
		PagesVerified: b.pagesVerified,
	}
}
