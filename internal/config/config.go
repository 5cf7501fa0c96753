package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/you/ytchat-export/internal/export"
)

// ErrInvalidPartitionSize rejects a split below one message per unit.
var ErrInvalidPartitionSize = errors.New("partition size must be at least 1")

type Config struct {
	Output         string
	Format         string
	Split          int
	DownloadImages bool
	Update         bool
	QueueSize      int
	Download       DownloadConfig
	Sink           SinkConfig
	HTTP           HTTPConfig
	YouTube        YouTubeConfig
}

type DownloadConfig struct {
	Workers int
	RPS     int
}

type SinkConfig struct {
	SQLitePath string
	FlushMaxMS int
}

type HTTPConfig struct {
	Addr        string
	RateRPS     int
	RateBurst   int
	CORSOrigins []string
}

type YouTubeConfig struct {
	PollIntervalMS  int
	PollTimeoutSecs int
}

const (
	defaultOutput          = "chat"
	defaultFormat          = export.DarkHTML
	defaultSplit           = 1
	defaultDownloadWorkers = 8
	defaultDownloadRPS     = 20
	defaultRateRPS         = 10
	defaultRateBurst       = 20
	defaultPollIntervalMS  = 1500
	defaultPollTimeoutSecs = 15
)

func Load() Config {
	cfg := Config{
		Output:         strings.TrimSpace(os.Getenv("YTCHAT_OUTPUT")),
		Format:         strings.TrimSpace(os.Getenv("YTCHAT_FORMAT")),
		Split:          readIntRaw("YTCHAT_SPLIT", defaultSplit),
		DownloadImages: !readBool("YTCHAT_NO_DOWNLOAD_IMAGE", false),
		Update:         readBool("YTCHAT_UPDATE", false),
		QueueSize:      readIntRaw("YTCHAT_QUEUE_SIZE", 0),
	}
	if cfg.Output == "" {
		cfg.Output = defaultOutput
	}
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}

	cfg.Download.Workers = readInt("YTCHAT_DOWNLOAD_WORKERS", defaultDownloadWorkers)
	cfg.Download.RPS = readInt("YTCHAT_DOWNLOAD_RPS", defaultDownloadRPS)

	cfg.Sink.SQLitePath = strings.TrimSpace(os.Getenv("YTCHAT_SQLITE_PATH"))
	cfg.Sink.FlushMaxMS = readInt("YTCHAT_SQLITE_FLUSH_MAX_MS", 0)

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("YTCHAT_HTTP_ADDR"))
	cfg.HTTP.RateRPS = readInt("YTCHAT_HTTP_RATE_RPS", defaultRateRPS)
	cfg.HTTP.RateBurst = readInt("YTCHAT_HTTP_RATE_BURST", defaultRateBurst)
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("YTCHAT_HTTP_CORS_ORIGINS"))

	cfg.YouTube.PollIntervalMS = readInt("YTCHAT_POLL_INTERVAL_MS", defaultPollIntervalMS)
	cfg.YouTube.PollTimeoutSecs = readInt("YTCHAT_POLL_TIMEOUT_SECS", defaultPollTimeoutSecs)

	return cfg
}

// Validate rejects settings the pipeline cannot start with. On success the
// format is rewritten to its canonical spelling.
func (c *Config) Validate() error {
	if c.Split < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPartitionSize, c.Split)
	}
	name, ok := export.Canonical(c.Format)
	if !ok {
		return fmt.Errorf("unknown format %q (want one of %s)", c.Format, strings.Join(export.Names, ", "))
	}
	c.Format = name
	return nil
}

// DownloadsAssets reports whether the run fetches images: HTML output with
// downloads on and not a metadata-only update.
func (c Config) DownloadsAssets() bool {
	return export.IsHTML(c.Format) && c.DownloadImages && !c.Update
}

func (c Config) FlushInterval() time.Duration {
	if c.Sink.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Sink.FlushMaxMS) * time.Millisecond
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	return dedupe(parts)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

// readInt returns def for unset, malformed or non-positive values.
func readInt(name string, def int) int {
	n := readIntRaw(name, def)
	if n <= 0 {
		return def
	}
	return n
}

// readIntRaw keeps zero and negative values so Validate can reject them. A
// malformed value reads as 0.
func readIntRaw(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// Redacted returns a loggable snapshot. Only the file name of the archive
// path is kept.
func (c Config) Redacted() map[string]any {
	sqlite := ""
	if c.Sink.SQLitePath != "" {
		sqlite = ".../" + baseName(c.Sink.SQLitePath)
	}
	return map[string]any{
		"output":          c.Output,
		"format":          c.Format,
		"split":           c.Split,
		"download_images": c.DownloadImages,
		"update":          c.Update,
		"queue_size":      c.QueueSize,
		"download": map[string]any{
			"workers": c.Download.Workers,
			"rps":     c.Download.RPS,
		},
		"sink": map[string]any{
			"sqlite_path": sqlite,
			"flush_ms":    c.Sink.FlushMaxMS,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
		},
		"youtube": map[string]any{
			"poll_interval_ms":  c.YouTube.PollIntervalMS,
			"poll_timeout_secs": c.YouTube.PollTimeoutSecs,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config map[string]any `json:"config_summary"`
	}{Config: c.Redacted()}
	data, _ := json.Marshal(summary)
	return data
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
