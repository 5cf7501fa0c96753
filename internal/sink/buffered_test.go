package sink

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingWriter struct {
	mu        sync.Mutex
	entries   []Entry
	failAfter int
	calls     int
}

func (r *recordingWriter) Write(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAfter > 0 && r.calls >= r.failAfter {
		return fmt.Errorf("boom")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingWriter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestBufferedWriterBatchFlush(t *testing.T) {
	base := &recordingWriter{}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 2, FlushInterval: time.Hour})
	defer func() {
		if err := bw.Close(); err != nil {
			t.Fatalf("close error: %v", err)
		}
	}()

	if err := bw.Write(Entry{Seq: 1}); err != nil {
		t.Fatalf("write1: %v", err)
	}
	if base.Count() != 0 {
		t.Fatalf("expected no flush yet")
	}
	if err := bw.Write(Entry{Seq: 2}); err != nil {
		t.Fatalf("write2: %v", err)
	}
	if base.Count() != 2 {
		t.Fatalf("expected batch flush, got %d", base.Count())
	}
}

func TestBufferedWriterFlushInterval(t *testing.T) {
	base := &recordingWriter{}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 10, FlushInterval: 20 * time.Millisecond})
	defer func() {
		if err := bw.Close(); err != nil {
			t.Fatalf("close error: %v", err)
		}
	}()

	if err := bw.Write(Entry{Seq: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for base.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected timer flush, got %d", base.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBufferedWriterCloseFlushesRemainder(t *testing.T) {
	base := &recordingWriter{}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 10})
	for i := int64(1); i <= 3; i++ {
		if err := bw.Write(Entry{Seq: i}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if base.Count() != 3 {
		t.Fatalf("expected 3 entries after close, got %d", base.Count())
	}
	if err := bw.Write(Entry{Seq: 4}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBufferedWriterErrorPropagation(t *testing.T) {
	base := &recordingWriter{failAfter: 1}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 1, FlushInterval: 0})
	defer func() {
		_ = bw.Close()
	}()

	if err := bw.Write(Entry{Seq: 1}); err == nil {
		t.Fatalf("expected error from underlying writer")
	}
}

type batchingWriter struct {
	recordingWriter
	batches   [][]Entry
	failBatch bool
}

func (b *batchingWriter) WriteBatch(entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failBatch {
		return fmt.Errorf("batch rejected")
	}
	b.batches = append(b.batches, entries)
	b.entries = append(b.entries, entries...)
	return nil
}

func TestBufferedWriterUsesBatchWrites(t *testing.T) {
	base := &batchingWriter{}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 3})
	for i := int64(1); i <= 4; i++ {
		if err := bw.Write(Entry{Seq: i}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(base.batches) != 1 || len(base.batches[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %v", base.batches)
	}
	if base.calls != 1 || base.Count() != 4 {
		t.Fatalf("expected the single remainder written alone, calls=%d count=%d", base.calls, base.Count())
	}
}

func TestBufferedWriterFallsBackToSingleWrites(t *testing.T) {
	base := &batchingWriter{failBatch: true}
	base.failAfter = 2
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 3})
	var err error
	for i := int64(1); i <= 3; i++ {
		err = bw.Write(Entry{Seq: i})
	}
	if err == nil {
		t.Fatalf("expected the failing entries to be reported")
	}
	if base.Count() != 1 || base.calls != 3 {
		t.Fatalf("expected every entry retried alone, calls=%d count=%d", base.calls, base.Count())
	}
	_ = bw.Close()
}
