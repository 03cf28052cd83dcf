// Package media turns tweet attachments and links into Bluesky embeds.
package media

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/internal/downloader"
)

// Resolver downloads tweet media and checks it against destination limits.
type Resolver struct {
	dl     downloader.Downloader
	limits config.MediaConfig
	logger *slog.Logger
}

// NewResolver creates a media resolver.
func NewResolver(dl downloader.Downloader, limits config.MediaConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		dl:     dl,
		limits: limits,
		logger: logger,
	}
}

// Resolve builds a media plan for the attachments, or returns nil when
// nothing usable can be attached. Download failures are logged, never
// returned.
func (r *Resolver) Resolve(ctx context.Context, media []domain.MediaEntity) *domain.MediaPlan {
	var photos, videos []domain.MediaEntity
	for _, m := range media {
		switch {
		case m.Type == domain.MediaTypePhoto:
			photos = append(photos, m)
		case m.Type.IsVideo():
			videos = append(videos, m)
		}
	}

	if n := len(photos); n > 0 && n <= domain.MaxImagesPerPost {
		if plan := r.resolveImages(ctx, photos); plan != nil {
			return plan
		}
	} else if n > domain.MaxImagesPerPost && len(videos) == 0 {
		r.logger.Info("too many images for one post, skipping media", "count", n)
		return nil
	}

	if len(videos) > 0 {
		return r.resolveVideo(ctx, videos[0])
	}
	return nil
}

func (r *Resolver) resolveImages(ctx context.Context, photos []domain.MediaEntity) *domain.MediaPlan {
	images := make([]domain.ImageAttachment, 0, len(photos))
	for _, p := range photos {
		img, err := r.fetchImage(ctx, p)
		if err != nil {
			r.logger.Warn("image download failed", "url", p.MediaURL, "error", err)
			continue
		}
		images = append(images, *img)
	}
	if len(images) == 0 {
		return nil
	}
	return &domain.MediaPlan{Kind: domain.MediaKindImages, Images: images}
}

func (r *Resolver) fetchImage(ctx context.Context, p domain.MediaEntity) (*domain.ImageAttachment, error) {
	candidates := imageCandidates(p.MediaURL)
	if len(candidates) == 0 {
		return nil, domain.ErrNoMediaURLs
	}

	var res *downloader.Result
	var err error
	for _, u := range candidates {
		res, err = r.dl.Fetch(ctx, u, r.limits.MaxImageBytes)
		if err == nil || !errors.Is(err, domain.ErrTooLarge) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	img := &domain.ImageAttachment{
		Data:    res.Data,
		AltText: p.AltText,
	}
	if w, h, mime, ok := decodeImageInfo(res.Data); ok {
		img.Width, img.Height, img.MimeType = w, h, mime
	} else {
		img.MimeType = mimeTypeOf(res.ContentType, res.Data, "image/")
		img.Width, img.Height = p.Width, p.Height
		if img.Width <= 0 || img.Height <= 0 {
			img.Width, img.Height = squareSide, squareSide
		}
	}
	if img.MimeType == "" {
		img.MimeType = "image/jpeg"
	}
	return img, nil
}

// imageCandidates lists download URLs for a photo, largest first. X serves
// smaller renditions of pbs.twimg.com images through the name parameter.
func imageCandidates(mediaURL string) []string {
	if mediaURL == "" {
		return nil
	}
	u, err := url.Parse(mediaURL)
	if err != nil || !strings.HasSuffix(u.Host, "pbs.twimg.com") || u.RawQuery != "" {
		return []string{mediaURL}
	}
	out := make([]string, 0, 3)
	for _, name := range []string{"large", "medium", "small"} {
		q := url.Values{"name": []string{name}}
		c := *u
		c.RawQuery = q.Encode()
		out = append(out, c.String())
	}
	return out
}

func (r *Resolver) resolveVideo(ctx context.Context, v domain.MediaEntity) *domain.MediaPlan {
	variant, ok := bestVariant(v.Variants)
	if !ok {
		r.logger.Warn("no mp4 variant for video", "type", v.Type, "error", domain.ErrNoMediaURLs)
		return nil
	}

	if limit := r.limits.MaxVideoDuration; limit > 0 && time.Duration(v.DurationMs)*time.Millisecond > limit {
		r.logger.Info("video too long for destination, skipping media",
			"duration_ms", v.DurationMs,
			"limit", limit,
		)
		return nil
	}

	// A reported size over the cap skips the GET. Unknown sizes and HEAD
	// failures fall through to the capped download.
	if limit := r.limits.MaxVideoBytes; limit > 0 {
		if info, err := r.dl.Head(ctx, variant.URL); err == nil && info.Accessible && info.ContentLength > limit {
			r.logger.Info("video too large for destination, skipping media",
				"url", variant.URL,
				"reported_bytes", info.ContentLength,
				"limit", limit,
			)
			return nil
		}
	}

	res, err := r.dl.Fetch(ctx, variant.URL, r.limits.MaxVideoBytes)
	if err != nil {
		if errors.Is(err, domain.ErrTooLarge) {
			r.logger.Info("video too large for destination, skipping media", "url", variant.URL, "limit", r.limits.MaxVideoBytes)
		} else {
			r.logger.Warn("video download failed", "url", variant.URL, "error", err)
		}
		return nil
	}

	video := &domain.VideoAttachment{
		Data:       res.Data,
		MimeType:   "video/mp4",
		AltText:    v.AltText,
		DurationMs: v.DurationMs,
	}
	switch w, h, ok := dimensionsFromURL(variant.URL); {
	case ok:
		video.Width, video.Height = w, h
	case v.Width > 0 && v.Height > 0:
		video.Width, video.Height = v.Width, v.Height
	default:
		video.Width, video.Height = defaultVideoWidth, defaultVideoHeight
	}

	return &domain.MediaPlan{Kind: domain.MediaKindVideo, Video: video}
}

// bestVariant picks the highest-bitrate MP4 encoding.
func bestVariant(variants []domain.VideoVariant) (domain.VideoVariant, bool) {
	var best domain.VideoVariant
	found := false
	for _, v := range variants {
		if v.ContentType != "video/mp4" || v.URL == "" {
			continue
		}
		if !found || v.Bitrate > best.Bitrate {
			best = v
			found = true
		}
	}
	return best, found
}
