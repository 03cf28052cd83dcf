package downloader

import (
	"context"
)

// Downloader fetches remote media and pages into memory.
type Downloader interface {
	// Fetch downloads the URL body. Bodies larger than maxBytes fail with
	// domain.ErrTooLarge; maxBytes <= 0 means no limit.
	Fetch(ctx context.Context, url string, maxBytes int64) (*Result, error)

	// Head checks URL accessibility without downloading full content.
	Head(ctx context.Context, url string) (*HeadResult, error)
}

// Result is a completed download.
type Result struct {
	Data        []byte
	ContentType string
	// FinalURL is the URL after redirects.
	FinalURL string
}

// HeadResult contains information about a media URL.
type HeadResult struct {
	ContentType   string
	ContentLength int64
	Accessible    bool
	Error         string
}
