// Package transform rewrites tweet text into destination post text.
package transform

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

var (
	whitespaceRe     = regexp.MustCompile(`\s+`)
	trailingFillerRe = regexp.MustCompile(`(?i)\s+(and this (image|video|gif))?\s*$`)
)

// mediaHosts serve tweet attachments. Links to them are never real content.
var mediaHosts = []string{
	"pic.twitter.com",
	"pic.x.com",
	"pbs.twimg.com",
	"video.twimg.com",
}

// Normalize strips media links from text, expands the remaining t.co links,
// collapses whitespace and drops a trailing "and this image" style filler.
// A tweet that only carried media normalizes to "".
func Normalize(text string, urls []domain.URLEntity, media []domain.MediaEntity) string {
	if text == "" {
		return ""
	}

	mediaSet := mediaURLSet(media)

	// Longest short form first so a link that prefixes another is not
	// substituted inside it.
	ordered := make([]domain.URLEntity, len(urls))
	copy(ordered, urls)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].ShortURL) > len(ordered[j].ShortURL)
	})

	cleaned := text
	for _, u := range ordered {
		if u.ShortURL == "" {
			continue
		}
		if isMediaURL(u, mediaSet) {
			cleaned = strings.ReplaceAll(cleaned, u.ShortURL, "")
			continue
		}
		if u.ExpandedURL != "" {
			cleaned = strings.ReplaceAll(cleaned, u.ShortURL, u.ExpandedURL)
		}
	}

	// X appends the attachment's own t.co link, which is usually absent from
	// the URL entities.
	for _, m := range media {
		if m.ShortURL != "" {
			cleaned = strings.ReplaceAll(cleaned, m.ShortURL, "")
		}
	}

	cleaned = whitespaceRe.ReplaceAllString(cleaned, " ")
	cleaned = trailingFillerRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// IsMediaURL reports whether a URL entity points at one of the item's media
// attachments or at a media host.
func IsMediaURL(u domain.URLEntity, media []domain.MediaEntity) bool {
	return isMediaURL(u, mediaURLSet(media))
}

func mediaURLSet(media []domain.MediaEntity) map[string]struct{} {
	set := make(map[string]struct{}, len(media)*2)
	for _, m := range media {
		if m.ShortURL != "" {
			set[m.ShortURL] = struct{}{}
		}
		if m.ExpandedURL != "" {
			set[m.ExpandedURL] = struct{}{}
		}
	}
	return set
}

func isMediaURL(u domain.URLEntity, set map[string]struct{}) bool {
	if _, ok := set[u.ShortURL]; ok && u.ShortURL != "" {
		return true
	}
	if u.ExpandedURL == "" {
		return false
	}
	if _, ok := set[u.ExpandedURL]; ok {
		return true
	}
	return isMediaHost(u.ExpandedURL)
}

func isMediaHost(raw string) bool {
	host := raw
	if parsed, err := url.Parse(raw); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	host = strings.ToLower(host)
	for _, h := range mediaHosts {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}
