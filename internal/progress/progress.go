// Package progress prints a single updating line with the number of
// classified messages, the rate and the elapsed time.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/you/ytchat-export/internal/core"
)

// Reporter implements classify.Observer. Lines are written at most once per
// interval; Finish always writes the final line.
type Reporter struct {
	writer   io.Writer
	label    string
	interval time.Duration
	now      func() time.Time

	started time.Time

	mu         sync.Mutex
	lastReport time.Time
	processed  int64
	paid       int64
	finished   bool
}

// New returns a reporter writing to w. Rate and elapsed time are measured
// from started. A non-positive interval reports on every message.
func New(w io.Writer, label string, started time.Time, interval time.Duration) *Reporter {
	return &Reporter{
		writer:   w,
		label:    label,
		interval: interval,
		now:      time.Now,
		started:  started,
	}
}

func (r *Reporter) Observe(msg core.Message, processed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.processed = processed
	if msg.Variant == core.VariantSuperChat || msg.Variant == core.VariantSuperSticker {
		r.paid++
	}
	if r.finished || now.Sub(r.lastReport) < r.interval {
		return
	}
	r.lastReport = now
	r.report(now)
}

// Finish writes the final line followed by a newline. Later calls do nothing.
func (r *Reporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	r.finished = true
	now := r.now()
	r.report(now)
	fmt.Fprintln(r.writer)
}

// Line renders the current progress without writing it.
func (r *Reporter) Line() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.line(r.now())
}

// report must be called with the lock held.
func (r *Reporter) report(now time.Time) {
	fmt.Fprintf(r.writer, "\r%s", r.line(now))
}

func (r *Reporter) line(now time.Time) string {
	elapsed := now.Sub(r.started)
	if elapsed < 0 {
		elapsed = 0
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(r.processed) / elapsed.Seconds()
	}
	return fmt.Sprintf("%s: %s messages (%s paid) - %s msg/s - elapsed %s",
		r.label,
		humanize.Comma(r.processed),
		humanize.Comma(r.paid),
		humanize.CommafWithDigits(rate, 1),
		elapsed.Truncate(time.Second),
	)
}
