package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/you/ytchat-export/internal/config"
	"github.com/you/ytchat-export/internal/export"
	"github.com/you/ytchat-export/internal/httpapi"
	"github.com/you/ytchat-export/internal/metrics"
	"github.com/you/ytchat-export/internal/sink"
	"github.com/you/ytchat-export/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := newApp(exportCommand).Run(os.Args); err != nil {
		log.Fatalf("ytchat-export: %v", err)
	}
}

func newApp(action cli.ActionFunc) *cli.App {
	return &cli.App{
		Name:      "ytchat-export",
		Usage:     "Export YouTube live chats as HTML, plain text or JSON",
		UsageText: "ytchat-export [options] <video id or URL>...",
		Version:   version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Directory to export live chats to",
				Value:   "chat",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: " + strings.Join(export.Names, ", "),
				Value:   export.DarkHTML,
			},
			&cli.IntFlag{
				Name:    "split",
				Aliases: []string{"s"},
				Usage:   "Split output into partitions with the given number of messages",
				Value:   1,
			},
			&cli.BoolFlag{
				Name:  "no-download-image",
				Usage: "Reference remote image URLs in HTML output instead of downloading them",
			},
			&cli.BoolFlag{
				Name:  "update",
				Usage: "Rebuild output without downloading assets again",
			},
			&cli.IntFlag{
				Name:  "queue-size",
				Usage: "Raw event queue bound; 0 uses the default, negative is unbounded",
			},
			&cli.IntFlag{
				Name:  "download-workers",
				Usage: "Concurrent image downloads",
				Value: 8,
			},
			&cli.IntFlag{
				Name:  "poll-interval-ms",
				Usage: "Live chat poll interval when YouTube does not suggest one",
				Value: 1500,
			},
			&cli.StringFlag{
				Name:  "sqlite",
				Usage: "Also archive messages into this SQLite database",
			},
			&cli.StringFlag{
				Name:  "http-addr",
				Usage: "Serve a live tail (SSE, WebSocket) and metrics on this address, e.g. :8765",
			},
			&cli.StringFlag{
				Name:  "http-cors-origins",
				Usage: "Comma-separated list of allowed CORS origins",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Do not print the progress line",
			},
		},
		Before: setupLogger,
		Action: action,
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig reads the environment and applies flags the user set explicitly.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Load()

	if c.IsSet("output") {
		cfg.Output = strings.TrimSpace(c.String("output"))
	}
	if c.IsSet("format") {
		cfg.Format = c.String("format")
	}
	if c.IsSet("split") {
		cfg.Split = c.Int("split")
	}
	if c.IsSet("no-download-image") {
		cfg.DownloadImages = !c.Bool("no-download-image")
	}
	if c.IsSet("update") {
		cfg.Update = c.Bool("update")
	}
	if c.IsSet("queue-size") {
		cfg.QueueSize = c.Int("queue-size")
	}
	if c.IsSet("download-workers") {
		cfg.Download.Workers = c.Int("download-workers")
	}
	if c.IsSet("poll-interval-ms") {
		cfg.YouTube.PollIntervalMS = c.Int("poll-interval-ms")
	}
	if c.IsSet("sqlite") {
		cfg.Sink.SQLitePath = strings.TrimSpace(c.String("sqlite"))
	}
	if c.IsSet("http-addr") {
		cfg.HTTP.Addr = strings.TrimSpace(c.String("http-addr"))
	}
	if c.IsSet("http-cors-origins") {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(c.String("http-cors-origins"), ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func exportCommand(c *cli.Context) error {
	ids := c.Args().Slice()
	if len(ids) == 0 {
		return cli.Exit("at least one YouTube video id or URL is required", 2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	log.Printf("%s", cfg.SummaryJSON())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	r := &runner{
		cfg:          cfg,
		metrics:      m,
		showProgress: !c.Bool("no-progress"),
	}

	if cfg.Sink.SQLitePath != "" {
		db, err := sink.OpenSQLite(cfg.Sink.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("ytchat-export: closing archive: %v", err)
			}
		}()
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping sqlite: %w", err)
		}
		r.archive = db
		log.Printf("ytchat-export: archiving to %s", cfg.Sink.SQLitePath)
	}

	if cfg.HTTP.Addr != "" {
		api := httpapi.New(httpapi.Options{
			Addr:        cfg.HTTP.Addr,
			RateRPS:     cfg.HTTP.RateRPS,
			RateBurst:   cfg.HTTP.RateBurst,
			CORSOrigins: cfg.HTTP.CORSOrigins,
			Build:       buildInfo(),
			Config:      cfg.RedactedJSON(),
			Metrics:     m,
		})
		go func() {
			if err := api.Start(); err != nil {
				log.Printf("ytchat-export: http api: %v", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				log.Printf("ytchat-export: http shutdown: %v", err)
			}
		}()
		r.api = api
	}

	for _, id := range ids {
		if err := r.run(ctx, id); err != nil {
			return err
		}
		if ctx.Err() != nil {
			log.Printf("ytchat-export: interrupted; skipping remaining streams")
			break
		}
	}
	return nil
}

func buildInfo() httpapi.BuildInfo {
	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if t, ok := version.BuiltAt(); ok {
		build.BuiltAt = t
	}
	return build
}
