// Package pipeline wires the live chat stages together: the source feeder
// fills the raw queue, the classifier drains it into a broadcaster, and every
// subscribed consumer receives the full ordered stream until end of stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/you/ytchat-export/internal/classify"
	"github.com/you/ytchat-export/internal/core"
)

const DefaultQueueSize = 1024

// Feed is the external live chat source.
type Feed interface {
	// Fetch returns the next delivery batch.
	Fetch(ctx context.Context) ([]core.RawEvent, error)
	// Alive reports whether more batches will follow. It is queried after
	// every batch.
	Alive() bool
}

// Consumer drains one subscription until end of stream.
type Consumer func(ctx context.Context, sub *Subscription) error

type Options struct {
	// QueueSize bounds the raw queue. Zero selects DefaultQueueSize; a negative
	// value makes it unbounded.
	QueueSize int
	// OnDrop is called for raw events the classifier rejects.
	OnDrop func(raw core.RawEvent, err error)
}

type Pipeline struct {
	feed        Feed
	classifier  *classify.Classifier
	completion  *Completion
	raw         *Queue[core.RawEvent]
	broadcaster *Broadcaster
	onDrop      func(core.RawEvent, error)

	consumers []registered
}

type registered struct {
	sub *Subscription
	run Consumer
}

func New(feed Feed, classifier *classify.Classifier, opts Options) *Pipeline {
	size := opts.QueueSize
	if size == 0 {
		size = DefaultQueueSize
	}
	completion := NewCompletion()
	return &Pipeline{
		feed:        feed,
		classifier:  classifier,
		completion:  completion,
		raw:         NewQueue[core.RawEvent]("raw", size),
		broadcaster: NewBroadcaster(completion),
		onDrop:      opts.OnDrop,
	}
}

func (p *Pipeline) Completion() *Completion { return p.completion }

// Attach subscribes a consumer with its own queue of the given capacity
// (<= 0 for unbounded). Consumers must be attached before Run.
func (p *Pipeline) Attach(name string, capacity int, run Consumer) *Subscription {
	sub := p.broadcaster.Subscribe(name, capacity)
	p.consumers = append(p.consumers, registered{sub: sub, run: run})
	return sub
}

// Run drives the session until the feed stops being alive and every consumer
// has drained its queue. Cancelling ctx ends the feed early but still lets
// buffered events flow through, so partial output is flushed. Any stage error
// aborts the remaining stages and is returned unmodified.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.consumers) == 0 {
		return errors.New("pipeline: no consumers attached")
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	fetchCtx, cancelFetch := context.WithCancel(gctx)
	defer cancelFetch()
	stop := context.AfterFunc(ctx, cancelFetch)
	defer stop()

	g.Go(func() error {
		return p.runFeed(fetchCtx, gctx)
	})
	g.Go(func() error {
		return p.runClassifier(gctx)
	})
	for _, c := range p.consumers {
		c := c
		g.Go(func() error {
			if err := c.run(gctx, c.sub); err != nil {
				return fmt.Errorf("%s: %w", c.sub.Name(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	p.completion.Signal()
	return err
}

// runFeed moves source batches onto the raw queue. The queue is closed when the
// source is no longer alive, when fetching is interrupted, or on failure.
func (p *Pipeline) runFeed(fetchCtx, ctx context.Context) error {
	defer p.raw.Close()

	for {
		if fetchCtx.Err() != nil {
			if ctx.Err() == nil {
				log.Printf("pipeline: source interrupted, finishing buffered events")
			}
			return nil
		}
		batch, err := p.feed.Fetch(fetchCtx)
		if err != nil {
			if fetchCtx.Err() != nil && ctx.Err() == nil {
				log.Printf("pipeline: source interrupted, finishing buffered events")
				return nil
			}
			return fmt.Errorf("source: %w", err)
		}
		for _, ev := range batch {
			if err := p.raw.Put(ctx, ev); err != nil {
				return fmt.Errorf("raw queue: %w", err)
			}
		}
		if !p.feed.Alive() {
			log.Printf("pipeline: source reported end of stream")
			return nil
		}
	}
}

// runClassifier drains the raw queue in arrival order and publishes each
// message. Once the raw queue is closed and empty it completes the run.
func (p *Pipeline) runClassifier(ctx context.Context) error {
	for {
		ev, err := p.raw.Get(ctx)
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		if err != nil {
			return err
		}

		msg, err := p.classifier.TryClassify(ev)
		if err != nil {
			slog.Warn("pipeline: dropped raw event", "err", err)
			if p.onDrop != nil {
				p.onDrop(ev, err)
			}
			continue
		}
		if err := p.broadcaster.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return p.broadcaster.Finish(ctx)
}
