package assets

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/you/ytchat-export/internal/core"
)

// Stream yields messages until ok is false.
type Stream interface {
	Next(ctx context.Context) (msg core.Message, ok bool, err error)
}

// Fetcher materializes one reference.
type Fetcher interface {
	Download(ctx context.Context, ref Reference) (Outcome, error)
}

// ResultFunc observes every finished download.
type ResultFunc func(ref Reference, outcome Outcome, err error)

// Stats summarizes one Run.
type Stats struct {
	Queued  int64
	Saved   int64
	Skipped int64
	Failed  int64
}

// Pipeline consumes classified messages, deduplicates their images and
// downloads them on a worker pool. Download failures are logged and counted but
// never stop the run.
type Pipeline struct {
	fetcher   Fetcher
	extractor *Extractor
	pool      *ants.Pool
	logger    *slog.Logger
	onResult  ResultFunc

	saved, skipped, failed atomic.Int64
}

type Option func(*Pipeline) error

// WithWorkers sets the download pool size. Default is runtime.NumCPU(), at
// least 2.
func WithWorkers(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

func WithResultFunc(fn ResultFunc) Option {
	return func(p *Pipeline) error {
		p.onResult = fn
		return nil
	}
}

func NewPipeline(fetcher Fetcher, opts ...Option) (*Pipeline, error) {
	size := runtime.NumCPU()
	if size < 2 {
		size = 2
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		fetcher:   fetcher,
		extractor: NewExtractor(),
		pool:      pool,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	return p, nil
}

// Run drains stream and returns once every queued download has finished.
func (p *Pipeline) Run(ctx context.Context, stream Stream) (Stats, error) {
	var (
		wg     sync.WaitGroup
		queued int64
	)
	defer wg.Wait()

	for {
		msg, ok, err := stream.Next(ctx)
		if err != nil {
			wg.Wait()
			return p.stats(queued), err
		}
		if !ok {
			break
		}
		for _, ref := range p.extractor.Extract(msg) {
			ref := ref
			wg.Add(1)
			if err := p.pool.Submit(func() {
				defer wg.Done()
				p.fetch(ctx, ref)
			}); err != nil {
				wg.Done()
				wg.Wait()
				return p.stats(queued), err
			}
			queued++
		}
	}
	wg.Wait()
	return p.stats(queued), nil
}

func (p *Pipeline) fetch(ctx context.Context, ref Reference) {
	outcome, err := p.fetcher.Download(ctx, ref)
	switch {
	case err != nil:
		p.failed.Add(1)
		p.logger.Warn("assets: download failed", "category", ref.Category, "url", ref.URL, "err", err)
	case outcome == Skipped:
		p.skipped.Add(1)
		p.logger.Debug("assets: unavailable, skipped", "category", ref.Category, "url", ref.URL)
	default:
		p.saved.Add(1)
	}
	if p.onResult != nil {
		p.onResult(ref, outcome, err)
	}
}

func (p *Pipeline) stats(queued int64) Stats {
	return Stats{
		Queued:  queued,
		Saved:   p.saved.Load(),
		Skipped: p.skipped.Load(),
		Failed:  p.failed.Load(),
	}
}

// Release frees the worker pool. The pipeline must not be used afterwards.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
