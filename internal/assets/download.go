package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Outcome is the result of one download attempt.
type Outcome int

const (
	Saved Outcome = iota
	// Skipped means the provider reported the image as deleted or unavailable.
	Skipped
)

func (o Outcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "saved"
}

const maxAssetBytes = 16 << 20

// Downloader fetches images into the asset tree under an output directory.
type Downloader struct {
	root    string
	http    *http.Client
	limiter *rate.Limiter
}

type DownloaderOptions struct {
	Client *http.Client
	// RPS paces requests across all workers. Zero disables pacing.
	RPS   float64
	Burst int
}

func NewDownloader(root string, opts DownloaderOptions) *Downloader {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &Downloader{root: root, http: client, limiter: limiter}
}

// Download writes ref to <root>/assets/<category>/<name>.png. An HTTP 400
// reply is reported as Skipped without error.
func (d *Downloader) Download(ctx context.Context, ref Reference) (Outcome, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Saved, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return Saved, errors.Wrap(err, "build asset request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ytchat-export/1.0)")

	resp, err := d.http.Do(req)
	if err != nil {
		return Saved, errors.Wrap(err, "fetch asset")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Skipped, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Saved, fmt.Errorf("assets: unexpected status %s for %s", resp.Status, ref.URL)
	}

	path := ref.Path(d.root)
	if err := writeFileAtomic(path, io.LimitReader(resp.Body, maxAssetBytes)); err != nil {
		return Saved, err
	}
	return Saved, nil
}

func writeFileAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create asset directory")
	}
	tmp, err := os.CreateTemp(dir, ".asset-*")
	if err != nil {
		return errors.Wrap(err, "create temp asset")
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "write asset")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "close asset")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "rename asset")
	}
	return nil
}
