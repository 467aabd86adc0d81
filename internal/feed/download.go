package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Downloader fetches feed archives into a local directory.
type Downloader struct {
	client     *http.Client
	dir        string
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

// NewDownloader creates a Downloader writing temp files under dir. An empty
// dir uses the OS temp directory.
func NewDownloader(dir string, logger *slog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{},
		dir:    dir,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     2 * time.Second,
				RandomizationFactor: 0.2,
				Multiplier:          2,
				MaxInterval:         time.Minute,
				MaxElapsedTime:      5 * time.Minute,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}
		},
	}
}

// WithBackOff replaces the retry policy.
func (d *Downloader) WithBackOff(f func() backoff.BackOff) *Downloader {
	d.newBackOff = f
	return d
}

// statusError is a non-200 response.
type statusError struct{ code int }

func (e statusError) Error() string { return fmt.Sprintf("unexpected status: %d", e.code) }

// Download fetches url to a temp file and returns its path. Network errors
// and 5xx responses are retried; other statuses fail immediately. The
// caller removes the file.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	if d.dir != "" {
		if err := os.MkdirAll(d.dir, 0o755); err != nil {
			return "", fmt.Errorf("create dir: %w", err)
		}
	}

	b := backoff.WithContext(d.newBackOff(), ctx)
	path, err := backoff.RetryNotifyWithData(
		func() (string, error) {
			p, err := d.fetch(ctx, url)
			var se statusError
			if errors.As(err, &se) && se.code < 500 {
				return "", backoff.Permanent(err)
			}
			return p, err
		},
		b,
		func(err error, wait time.Duration) {
			d.logger.Warn("feed download failed, retrying", "url", url, "wait", wait, "error", err)
		},
	)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	return path, nil
}

func (d *Downloader) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	d.logger.Info("downloading GTFS feed", "url", url)
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError{code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(d.dir, "gtfs-*.zip")
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	written, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write file: %w", err)
	}

	d.logger.Info("GTFS feed downloaded",
		"path", filepath.Base(tmp.Name()),
		"size_mb", fmt.Sprintf("%.1f", float64(written)/(1024*1024)),
	)
	return tmp.Name(), nil
}
