package downloader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
)

func testConfig() config.DownloadConfig {
	return config.DownloadConfig{
		Timeout:       5 * time.Second,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 100 * time.Millisecond,
		MaxAttempts:   3,
		UserAgent:     "test-agent",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHTTPDownloader(t *testing.T) {
	dl := NewHTTPDownloader(testConfig(), testLogger())

	if dl == nil {
		t.Fatal("downloader should not be nil")
	}
	if dl.userAgent != "test-agent" {
		t.Errorf("userAgent = %q, want %q", dl.userAgent, "test-agent")
	}
	if dl.retry.MaxAttempts != 3 {
		t.Errorf("retry.MaxAttempts = %d, want 3", dl.retry.MaxAttempts)
	}
}

func TestHTTPDownloader_Fetch_Success(t *testing.T) {
	content := []byte("image content data here")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", ua, "test-agent")
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(content)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	result, err := dl.Fetch(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if string(result.Data) != string(content) {
		t.Errorf("content = %q, want %q", result.Data, content)
	}
	if result.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", result.ContentType)
	}
	if result.FinalURL != server.URL {
		t.Errorf("FinalURL = %q, want %q", result.FinalURL, server.URL)
	}
}

func TestHTTPDownloader_Fetch_ReportedSizeTooLarge(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	_, err := dl.Fetch(context.Background(), server.URL, 10)

	if !errors.Is(err, domain.ErrTooLarge) {
		t.Fatalf("Fetch() error = %v, want ErrTooLarge", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("attempts = %d, want 1 (oversize is not retried)", n)
	}
}

func TestHTTPDownloader_Fetch_UnreportedSizeTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing before writing the body forces chunked encoding with no Content-Length.
		w.(http.Flusher).Flush()
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	_, err := dl.Fetch(context.Background(), server.URL, 50)

	if !errors.Is(err, domain.ErrTooLarge) {
		t.Fatalf("Fetch() error = %v, want ErrTooLarge", err)
	}
}

func TestHTTPDownloader_Fetch_ExactLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 50)))
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	result, err := dl.Fetch(context.Background(), server.URL, 50)
	if err != nil {
		t.Fatalf("Fetch at exact limit failed: %v", err)
	}
	if len(result.Data) != 50 {
		t.Errorf("len(Data) = %d, want 50", len(result.Data))
	}
}

func TestHTTPDownloader_Fetch_Forbidden(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	_, err := dl.Fetch(context.Background(), server.URL, 0)

	if !errors.Is(err, domain.ErrURLExpired) {
		t.Fatalf("Fetch() error = %v, want ErrURLExpired", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("attempts = %d, want 1 (URL expired is not retryable)", n)
	}
}

func TestHTTPDownloader_Fetch_RateLimited(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("success"))
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	result, err := dl.Fetch(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("Fetch should succeed after retries: %v", err)
	}
	if string(result.Data) != "success" {
		t.Errorf("Data = %q, want success", result.Data)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestHTTPDownloader_Fetch_ServerErrorExhaustsRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	_, err := dl.Fetch(context.Background(), server.URL, 0)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Fetch() error = %v, want StatusError 500", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestHTTPDownloader_Fetch_ContextCanceledDuringRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RetryDelay = time.Hour
	cfg.MaxRetryDelay = time.Hour
	dl := NewHTTPDownloader(cfg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := dl.Fetch(ctx, server.URL, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Fetch() error = %v, want context deadline", err)
	}
}

func TestHTTPDownloader_Head_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("Head should use HEAD, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	result, err := dl.Head(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	if !result.Accessible {
		t.Error("Accessible should be true")
	}
	if result.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q, want %q", result.ContentType, "video/mp4")
	}
	if result.ContentLength != 1024 {
		t.Errorf("ContentLength = %d, want 1024", result.ContentLength)
	}
}

func TestHTTPDownloader_Head_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	result, err := dl.Head(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Head should not return error: %v", err)
	}

	if result.Accessible {
		t.Error("Accessible should be false for 404")
	}
	if result.Error == "" {
		t.Error("Error should contain status code")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", domain.ErrRateLimited, true},
		{"URL expired", domain.ErrURLExpired, false},
		{"too large", domain.ErrTooLarge, false},
		{"canceled", context.Canceled, false},
		{"server error", &StatusError{StatusCode: 502}, true},
		{"client error", &StatusError{StatusCode: 400}, false},
		{"generic error", io.EOF, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryWithCheck_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := RetryWithCheck(context.Background(), RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		func() (int, error) {
			calls++
			return 0, domain.ErrURLExpired
		}, isRetryableError)

	if !errors.Is(err, domain.ErrURLExpired) {
		t.Errorf("err = %v, want ErrURLExpired", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryConfigFrom(t *testing.T) {
	rc := RetryConfigFrom(config.DownloadConfig{})
	if rc != DefaultRetryConfig() {
		t.Errorf("empty config should give defaults, got %+v", rc)
	}

	rc = RetryConfigFrom(testConfig())
	if rc.InitialDelay != 10*time.Millisecond || rc.MaxDelay != 100*time.Millisecond {
		t.Errorf("RetryConfigFrom() = %+v", rc)
	}
}
