package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"relaybot/internal/domain"
)

// FetcherConfig configures the media downloader.
type FetcherConfig struct {
	Client   *http.Client
	TempDir  string
	MaxBytes int64
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Fetcher downloads encrypted media blobs into transient files.
type Fetcher struct {
	client   *http.Client
	tempDir  string
	maxBytes int64
	timeout  time.Duration
	logger   *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		client:   cfg.Client,
		tempDir:  cfg.TempDir,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Fetch downloads url into a new file under the temp dir and returns its
// path. The caller owns the file and must remove it. Failures are never
// retried.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &domain.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	if f.tempDir != "" {
		if err := os.MkdirAll(f.tempDir, 0o700); err != nil {
			return "", &domain.FetchError{URL: url, Err: err}
		}
	}
	out, err := os.CreateTemp(f.tempDir, "media-*.enc")
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}

	n, err := io.Copy(out, io.LimitReader(resp.Body, f.maxBytes+1))
	closeErr := out.Close()
	switch {
	case err != nil:
	case closeErr != nil:
		err = closeErr
	case n > f.maxBytes:
		err = fmt.Errorf("body exceeds %d bytes", f.maxBytes)
	}
	if err != nil {
		os.Remove(out.Name())
		return "", &domain.FetchError{URL: url, Err: err}
	}

	f.logger.Debug("media fetched", "bytes", n, "path", out.Name())
	return out.Name(), nil
}
