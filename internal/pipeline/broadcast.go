package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/you/ytchat-export/internal/core"
)

// Broadcaster replicates every classified message onto one queue per
// subscriber so that each consumer sees the full ordered stream.
type Broadcaster struct {
	completion *Completion

	mu       sync.Mutex
	subs     []*Subscription
	started  bool
	finished bool
}

func NewBroadcaster(completion *Completion) *Broadcaster {
	return &Broadcaster{completion: completion}
}

// Subscribe registers a consumer. It must be called before the first Publish.
func (b *Broadcaster) Subscribe(name string, capacity int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic(fmt.Sprintf("pipeline: subscribe %q after publishing started", name))
	}
	sub := &Subscription{
		name:       name,
		queue:      NewQueue[Item](name, capacity),
		completion: b.completion,
	}
	b.subs = append(b.subs, sub)
	return sub
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish places msg on every subscriber queue, in subscription order.
func (b *Broadcaster) Publish(ctx context.Context, msg core.Message) error {
	b.mu.Lock()
	b.started = true
	subs := b.subs
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.queue.Put(ctx, Data(msg)); err != nil {
			return fmt.Errorf("publish to %s: %w", sub.name, err)
		}
	}
	return nil
}

// Finish signals completion and then enqueues the end-of-stream marker on every
// subscriber queue. Only the first call has any effect.
func (b *Broadcaster) Finish(ctx context.Context) error {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return nil
	}
	b.finished = true
	b.started = true
	subs := b.subs
	b.mu.Unlock()

	b.completion.Signal()
	for _, sub := range subs {
		if err := sub.queue.Put(ctx, EndOfStream()); err != nil {
			return fmt.Errorf("end of stream to %s: %w", sub.name, err)
		}
		sub.queue.Close()
	}
	return nil
}

// Subscription is one consumer's view of the parsed stream.
type Subscription struct {
	name       string
	queue      *Queue[Item]
	completion *Completion
	ended      bool
}

func (s *Subscription) Name() string { return s.name }

// Pending returns the number of buffered items.
func (s *Subscription) Pending() int { return s.queue.Len() }

// Next returns the next message in arrival order. ok is false once the
// end-of-stream marker is read, or once the run is complete and nothing is left
// buffered. Completion is only signalled after the last message was published,
// so an empty queue after completion means the stream is exhausted.
func (s *Subscription) Next(ctx context.Context) (msg core.Message, ok bool, err error) {
	for {
		if s.ended {
			return core.Message{}, false, nil
		}
		item, got, _ := s.queue.TryGet()
		if got {
			if item.IsEnd() {
				s.ended = true
				return core.Message{}, false, nil
			}
			return item.Message, true, nil
		}
		if s.completion.IsComplete() {
			s.ended = true
			return core.Message{}, false, nil
		}

		select {
		case <-s.queue.Readable():
		case <-s.completion.Done():
		case <-ctx.Done():
			return core.Message{}, false, ctx.Err()
		}
	}
}
