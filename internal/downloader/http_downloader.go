package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// HTTPDownloader implements Downloader using HTTP requests.
type HTTPDownloader struct {
	client    *http.Client
	userAgent string
	retry     RetryConfig
	logger    *slog.Logger
}

// NewHTTPDownloader creates a new HTTP-based downloader.
func NewHTTPDownloader(cfg config.DownloadConfig, logger *slog.Logger) *HTTPDownloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDownloader{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		userAgent: cfg.UserAgent,
		retry:     RetryConfigFrom(cfg),
		logger:    logger,
	}
}

// Fetch downloads url into memory with retry logic.
func (d *HTTPDownloader) Fetch(ctx context.Context, url string, maxBytes int64) (*Result, error) {
	result, err := RetryWithCheck(ctx, d.retry, func() (*Result, error) {
		return d.fetchOnce(ctx, url, maxBytes)
	}, isRetryableError)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return result, nil
}

func (d *HTTPDownloader) fetchOnce(ctx context.Context, url string, maxBytes int64) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Set headers to mimic browser request
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", "https://x.com/")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes reported, limit %d", domain.ErrTooLarge, resp.ContentLength, maxBytes)
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		// Read one byte past the limit so an unreported oversize body is detected.
		body = io.LimitReader(resp.Body, maxBytes+1)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := buf.ReadFrom(body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if maxBytes > 0 && int64(buf.Len()) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", domain.ErrTooLarge, maxBytes)
	}

	d.logger.Debug("download complete",
		"url", url,
		"bytes", buf.Len(),
		"duration", time.Since(start),
	)

	return &Result{
		Data:        buf.Bytes(),
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// Head checks URL accessibility without downloading full content.
func (d *HTTPDownloader) Head(ctx context.Context, url string) (*HeadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Referer", "https://x.com/")

	resp, err := d.client.Do(req)
	if err != nil {
		return &HeadResult{
			Accessible: false,
			Error:      err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	result := &HeadResult{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Accessible:    resp.StatusCode == http.StatusOK,
	}

	if !result.Accessible {
		result.Error = fmt.Sprintf("status code %d", resp.StatusCode)
	}

	return result, nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusForbidden || code == http.StatusUnauthorized ||
		code == http.StatusNotFound || code == http.StatusGone:
		return domain.ErrURLExpired
	case code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return &StatusError{StatusCode: code}
	}
}

func isRetryableError(err error) bool {
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	// Expired URLs and oversize bodies will not change on retry
	if errors.Is(err, domain.ErrURLExpired) || errors.Is(err, domain.ErrTooLarge) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	// Network errors are retryable
	return true
}
