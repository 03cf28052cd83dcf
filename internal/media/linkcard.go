package media

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/internal/downloader"
	"github.com/iconidentify/xcrosspost/internal/transform"
)

// maxPageBytes caps how much of a linked page is read for metadata.
const maxPageBytes = 2 << 20

// LinkCardResolver builds external link previews from page metadata.
type LinkCardResolver struct {
	dl            downloader.Downloader
	maxThumbBytes int64
	logger        *slog.Logger
}

// NewLinkCardResolver creates a link card resolver. Thumbnails larger than
// maxThumbBytes are dropped.
func NewLinkCardResolver(dl downloader.Downloader, maxThumbBytes int64, logger *slog.Logger) *LinkCardResolver {
	return &LinkCardResolver{
		dl:            dl,
		maxThumbBytes: maxThumbBytes,
		logger:        logger,
	}
}

// FirstExternalLink returns the expanded form of the first URL that is not
// a media link, or "".
func FirstExternalLink(urls []domain.URLEntity, media []domain.MediaEntity) string {
	for _, u := range urls {
		if u.ExpandedURL == "" || transform.IsMediaURL(u, media) {
			continue
		}
		return u.ExpandedURL
	}
	return ""
}

// Resolve builds a card for the first external link, or returns nil when
// there is no link or its page cannot be fetched.
func (r *LinkCardResolver) Resolve(ctx context.Context, urls []domain.URLEntity, media []domain.MediaEntity) *domain.LinkCard {
	link := FirstExternalLink(urls, media)
	if link == "" {
		return nil
	}

	res, err := r.dl.Fetch(ctx, link, maxPageBytes)
	if err != nil {
		r.logger.Warn("link card fetch failed", "url", link, "error", err)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Data))
	if err != nil {
		r.logger.Warn("link card parse failed", "url", link, "error", err)
		return nil
	}

	card := &domain.LinkCard{
		URI:         link,
		Title:       firstNonEmpty(metaContent(doc, "og:title"), metaContent(doc, "twitter:title"), strings.TrimSpace(doc.Find("title").First().Text())),
		Description: firstNonEmpty(metaContent(doc, "og:description"), metaContent(doc, "twitter:description"), metaContent(doc, "description")),
	}
	if card.Title == "" {
		card.Title = link
	}

	image := firstNonEmpty(metaContent(doc, "og:image"), metaContent(doc, "og:image:url"), metaContent(doc, "twitter:image"))
	if image == "" {
		return card
	}
	base := res.FinalURL
	if base == "" {
		base = link
	}
	thumbURL, err := resolveReference(base, image)
	if err != nil {
		r.logger.Debug("link card image url invalid", "url", image, "error", err)
		return card
	}

	thumb, err := r.dl.Fetch(ctx, thumbURL, r.maxThumbBytes)
	if err != nil {
		r.logger.Warn("link card thumbnail download failed", "url", thumbURL, "error", err)
		return card
	}
	mime := mimeTypeOf(thumb.ContentType, thumb.Data, "image/")
	if mime == "" {
		r.logger.Debug("link card thumbnail is not an image", "url", thumbURL, "content_type", thumb.ContentType)
		return card
	}
	card.Thumb = &domain.Thumbnail{Data: thumb.Data, MimeType: mime}
	return card
}

// metaContent reads <meta property=key> or <meta name=key>.
func metaContent(doc *goquery.Document, key string) string {
	var out string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		prop, _ := s.Attr("property")
		name, _ := s.Attr("name")
		if !strings.EqualFold(prop, key) && !strings.EqualFold(name, key) {
			return true
		}
		if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
			out = strings.TrimSpace(content)
			return false
		}
		return true
	})
	return out
}

func resolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
