package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/you/ytchat-export/internal/assets"
	"github.com/you/ytchat-export/internal/classify"
	"github.com/you/ytchat-export/internal/config"
	"github.com/you/ytchat-export/internal/core"
	"github.com/you/ytchat-export/internal/export"
	"github.com/you/ytchat-export/internal/httpapi"
	"github.com/you/ytchat-export/internal/metrics"
	"github.com/you/ytchat-export/internal/pipeline"
	"github.com/you/ytchat-export/internal/progress"
	"github.com/you/ytchat-export/internal/sink"
	"github.com/you/ytchat-export/internal/ytlive"
)

// runner holds what outlives a single stream: config, metrics, the archive
// and the live tail server.
type runner struct {
	cfg          config.Config
	metrics      *metrics.Metrics
	archive      *sink.SQLiteSink
	api          *httpapi.Server
	showProgress bool
}

// run exports one stream into <output>/<title>. A stream without an
// accessible chat is logged and skipped.
func (r *runner) run(ctx context.Context, raw string) error {
	started := time.Now()
	session := uuid.NewString()
	logger := slog.With("session", session, "stream", raw)

	video, err := ytlive.NewResolver(nil).Resolve(ctx, raw)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", raw, err)
	}
	if !video.Live {
		logger.Warn("stream does not look live; trying its chat anyway", "video", video.ID)
	}

	title := assets.CleanName(strings.TrimSpace(video.Title))
	if title == "" {
		title = video.ID
	}
	root := filepath.Join(r.cfg.Output, title)
	log.Printf("ytchat-export: %s (%s) -> %s [%s]", title, video.ID, root, r.cfg.Format)

	target, err := openTarget(r.cfg, root)
	if err != nil {
		return err
	}

	resolver := assets.Resolver{Local: r.cfg.DownloadImages && export.IsHTML(r.cfg.Format)}
	format, err := export.ForName(r.cfg.Format, resolver)
	if err != nil {
		return err
	}

	source := ytlive.NewSource(ytlive.Config{
		VideoID:         video.ID,
		PollIntervalMS:  r.cfg.YouTube.PollIntervalMS,
		PollTimeoutSecs: r.cfg.YouTube.PollTimeoutSecs,
	})

	observers := []classify.Observer{r.metrics}
	var reporter *progress.Reporter
	if r.showProgress {
		reporter = progress.New(os.Stderr, title, started, 500*time.Millisecond)
		observers = append(observers, reporter)
	}

	p := pipeline.New(source, classify.New(observers...), pipeline.Options{
		QueueSize: r.cfg.QueueSize,
		OnDrop: func(core.RawEvent, error) {
			r.metrics.IncRawDropped()
		},
	})

	exporter := export.New(format, target, export.Options{
		Split: r.cfg.Split,
		Title: title,
		OnFlush: func(name string, _ export.Unit, _ int) {
			r.metrics.IncPartitionsFlushed(name)
		},
	})
	p.Attach("export", pipeline.DefaultQueueSize, func(ctx context.Context, sub *pipeline.Subscription) error {
		res, err := exporter.Export(ctx, sub)
		if err != nil {
			return err
		}
		logger.Info("export finished", "messages", res.Messages, "units", len(res.Units))
		return nil
	})

	if r.cfg.DownloadsAssets() {
		if err := r.attachAssets(p, root, logger); err != nil {
			return err
		}
	}

	if r.archive != nil {
		p.Attach("archive", pipeline.DefaultQueueSize, func(ctx context.Context, sub *pipeline.Subscription) error {
			_, err := sink.Archive(ctx, sub, r.archive, session, sink.ArchiveOptions{
				BatchSize:     r.cfg.Split,
				FlushInterval: r.cfg.FlushInterval(),
				OnError: func(error) {
					r.metrics.IncArchiveErrors()
				},
			})
			return err
		})
	}

	if r.api != nil {
		p.Attach("live", pipeline.DefaultQueueSize, func(ctx context.Context, sub *pipeline.Subscription) error {
			return r.api.Tail(ctx, sub)
		})
	}

	err = p.Run(ctx)
	if reporter != nil {
		reporter.Finish()
	}
	if errors.Is(err, ytlive.ErrChatUnavailable) {
		logger.Warn("no live chat available; skipping", "video", video.ID)
		return nil
	}
	return err
}

// openTarget creates the output directory, plus the asset tree for HTML
// formats whether or not images are downloaded.
func openTarget(cfg config.Config, root string) (*export.DirTarget, error) {
	target, err := export.OpenDir(root)
	if err != nil {
		return nil, err
	}
	if export.IsHTML(cfg.Format) {
		if err := assets.Provision(root); err != nil {
			return nil, err
		}
	}
	return target, nil
}

// attachAssets downloads every image the HTML output references. Messages
// are never held back by downloads, so its queue is unbounded.
func (r *runner) attachAssets(p *pipeline.Pipeline, root string, logger *slog.Logger) error {
	downloader := assets.NewDownloader(root, assets.DownloaderOptions{
		RPS:   float64(r.cfg.Download.RPS),
		Burst: r.cfg.Download.Workers,
	})
	ap, err := assets.NewPipeline(downloader,
		assets.WithWorkers(r.cfg.Download.Workers),
		assets.WithLogger(logger),
		assets.WithResultFunc(func(ref assets.Reference, outcome assets.Outcome, err error) {
			switch {
			case err != nil:
				r.metrics.IncAssetErrors()
			case outcome == assets.Skipped:
				r.metrics.IncAssetSkipped("unavailable")
			default:
				r.metrics.IncAssetDownloaded(string(ref.Category))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("asset pool: %w", err)
	}

	p.Attach("assets", -1, func(ctx context.Context, sub *pipeline.Subscription) error {
		defer ap.Release()
		stats, err := ap.Run(ctx, sub)
		if err != nil {
			return err
		}
		logger.Info("assets finished",
			"queued", stats.Queued, "saved", stats.Saved,
			"skipped", stats.Skipped, "failed", stats.Failed)
		return nil
	})
	return nil
}
