package sink

import (
	"errors"
	"sync"
	"time"
)

// Writer stores archive entries.
type Writer interface {
	Write(Entry) error
}

// BatchWriter is implemented by writers that can store several entries at
// once, e.g. in a single transaction.
type BatchWriter interface {
	Writer
	WriteBatch([]Entry) error
}

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("buffered writer closed")

// BufferedWriter groups entries into batches for a base Writer. A batch is
// written when it reaches BatchSize, FlushInterval after its first entry, or
// on Close. If a batch write fails, its entries are retried one by one so a
// single bad entry costs only itself. A failure from a timer flush is returned
// by the next Write or Close.
type BufferedWriter struct {
	base     Writer
	size     int
	interval time.Duration

	mu       sync.Mutex
	pending  []Entry
	timer    *time.Timer
	closed   bool
	deferred error
}

type BufferedOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

func NewBufferedWriter(base Writer, opts BufferedOptions) *BufferedWriter {
	size := opts.BatchSize
	if size <= 0 {
		size = 1
	}
	return &BufferedWriter{base: base, size: size, interval: opts.FlushInterval}
}

func (b *BufferedWriter) Write(e Entry) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending = append(b.pending, e)
	if len(b.pending) == 1 && b.interval > 0 && b.size > 1 {
		b.timer = time.AfterFunc(b.interval, b.flushTimer)
	}
	var batch []Entry
	if len(b.pending) >= b.size {
		batch = b.takeLocked()
	}
	earlier := b.deferred
	b.deferred = nil
	b.mu.Unlock()

	return errors.Join(earlier, b.store(batch))
}

// Close writes whatever is pending. Further writes fail with ErrClosed.
func (b *BufferedWriter) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	batch := b.takeLocked()
	earlier := b.deferred
	b.deferred = nil
	b.mu.Unlock()

	return errors.Join(earlier, b.store(batch))
}

func (b *BufferedWriter) flushTimer() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()

	if err := b.store(batch); err != nil {
		b.mu.Lock()
		b.deferred = errors.Join(b.deferred, err)
		b.mu.Unlock()
	}
}

// takeLocked detaches the pending batch and disarms the timer.
func (b *BufferedWriter) takeLocked() []Entry {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *BufferedWriter) store(batch []Entry) error {
	if len(batch) == 0 {
		return nil
	}
	if bw, ok := b.base.(BatchWriter); ok && len(batch) > 1 {
		if bw.WriteBatch(batch) == nil {
			return nil
		}
	}
	var errs []error
	for _, e := range batch {
		if err := b.base.Write(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
