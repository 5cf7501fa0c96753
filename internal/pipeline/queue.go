package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/you/ytchat-export/internal/core"
)

// ErrQueueClosed is returned by Put on a closed queue and by Get once a closed
// queue has been drained.
var ErrQueueClosed = errors.New("pipeline: queue closed")

// Queue is an ordered hand-off between one producer and one consumer. A
// capacity <= 0 makes it unbounded.
type Queue[T any] struct {
	name     string
	capacity int

	mu     sync.Mutex
	items  []T
	closed bool

	readable chan struct{}
	writable chan struct{}
}

func NewQueue[T any](name string, capacity int) *Queue[T] {
	return &Queue[T]{
		name:     name,
		capacity: capacity,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (q *Queue[T]) Name() string { return q.name }

// Put appends v, waiting for room when the queue is bounded and full.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			q.items = append(q.items, v)
			q.mu.Unlock()
			wake(q.readable)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.writable:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryGet pops the head without waiting.
func (q *Queue[T]) TryGet() (v T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, false, q.closed
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	wake(q.writable)
	return v, true, q.closed
}

// Get pops the head, waiting while the queue is empty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		v, ok, closed := q.TryGet()
		if ok {
			return v, nil
		}
		if closed {
			return v, ErrQueueClosed
		}
		select {
		case <-q.readable:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// Close stops further puts. Buffered items stay readable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	wake(q.readable)
	wake(q.writable)
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Readable fires after an item is added or the queue is closed.
func (q *Queue[T]) Readable() <-chan struct{} {
	return q.readable
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ItemKind tags a parsed-queue element.
type ItemKind int

const (
	ItemData ItemKind = iota
	ItemEndOfStream
)

// Item is a parsed-queue element: either a message or the end-of-stream marker.
type Item struct {
	Kind    ItemKind
	Message core.Message
}

func Data(msg core.Message) Item {
	return Item{Kind: ItemData, Message: msg}
}

func EndOfStream() Item {
	return Item{Kind: ItemEndOfStream}
}

func (i Item) IsEnd() bool {
	return i.Kind == ItemEndOfStream
}
